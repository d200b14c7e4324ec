package goofish

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fleamkt/watchdog/internal/market"
)

// searchData is the part of the mtop payload we rely on. Everything else is
// carried opaquely; missing fields degrade to zero values rather than
// failing the page.
type searchData struct {
	ResultList []struct {
		Data struct {
			Item struct {
				Main struct {
					ExContent struct {
						Title  string `json:"title"`
						Area   string `json:"area"`
						PicURL string `json:"picUrl"`
						Price  []struct {
							Text string `json:"text"`
						} `json:"price"`
						UserNickName string `json:"userNickName"`
						DetailParams struct {
							ItemID       string `json:"itemId"`
							CategoryName string `json:"categoryName"`
						} `json:"detailParams"`
					} `json:"exContent"`
					ClickParam struct {
						Args struct {
							ID          string `json:"id"`
							PublishTime string `json:"publishTime"` // unix ms
						} `json:"args"`
					} `json:"clickParam"`
				} `json:"main"`
			} `json:"item"`
		} `json:"data"`
	} `json:"resultList"`
}

func parseItems(data json.RawMessage, query string, now time.Time) ([]market.Item, error) {
	var sd searchData
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, err
	}

	items := make([]market.Item, 0, len(sd.ResultList))
	for _, entry := range sd.ResultList {
		main := entry.Data.Item.Main

		id := main.ClickParam.Args.ID
		if id == "" {
			id = main.ExContent.DetailParams.ItemID
		}
		if id == "" {
			continue
		}

		it := market.Item{
			ID:       id,
			Title:    main.ExContent.Title,
			Price:    parsePrice(main.ExContent.Price),
			URL:      "https://www.goofish.com/item?id=" + id,
			Location: main.ExContent.Area,
			Seller:   main.ExContent.UserNickName,
			Category: main.ExContent.DetailParams.CategoryName,
			Query:    query,
			Site:     SiteName,
		}
		if main.ExContent.PicURL != "" {
			it.Images = []string{normalizeImageURL(main.ExContent.PicURL)}
		}
		if ms, err := strconv.ParseInt(main.ClickParam.Args.PublishTime, 10, 64); err == nil && ms > 0 {
			it.PublishTime = time.UnixMilli(ms)
			it.AgeMinutes = it.Age(now)
		}

		items = append(items, it)
	}
	return items, nil
}

var priceDigits = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// parsePrice joins the price text fragments ("¥", "1", "299") and extracts
// the numeric value. Unparseable prices come back as 0.
func parsePrice(parts []struct {
	Text string `json:"text"`
}) float64 {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	joined := strings.ReplaceAll(b.String(), ",", "")
	m := priceDigits.FindString(joined)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func normalizeImageURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
