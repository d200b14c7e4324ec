package goofish

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleamkt/watchdog/internal/market"
	"github.com/fleamkt/watchdog/internal/session"
)

func testToken() session.Token {
	return session.NewToken(map[string]string{
		session.TokenCookie: "testseed_12345",
		"cna":               "abc",
	}, time.Now())
}

func resultEntry(id, title, priceText string, publishMS int64) string {
	return fmt.Sprintf(`{
		"data": {"item": {"main": {
			"exContent": {
				"title": %q,
				"area": "Hangzhou",
				"picUrl": "//img.example.com/%s.jpg",
				"price": [{"text": "¥"}, {"text": %q}],
				"userNickName": "seller1",
				"detailParams": {"itemId": %q, "categoryName": "phones"}
			},
			"clickParam": {"args": {"id": %q, "publishTime": "%d"}}
		}}}
	}`, title, id, priceText, id, id, publishMS)
}

func successBody(entries ...string) string {
	joined := ""
	for i, e := range entries {
		if i > 0 {
			joined += ","
		}
		joined += e
	}
	return `{"ret":["SUCCESS::调用成功"],"data":{"resultList":[` + joined + `]}}`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:    srv.URL,
		SearchPath: "/h5/search/1.0/",
		AppKey:     "12345678",
		UserAgent:  "test-agent",
		Delay:      time.Millisecond,
		MaxRows:    50,
	}, srv.Client())
}

func TestSearchParsesItems(t *testing.T) {
	publish := time.Now().Add(-30 * time.Minute).UnixMilli()
	var gotQuery, gotCookie string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotCookie = r.Header.Get("Cookie")
		fmt.Fprint(w, successBody(
			resultEntry("111", "iPhone 13", "1299", publish),
			resultEntry("222", "iPhone 12", "899.50", publish),
		))
	})

	items, err := c.Search(context.Background(), "iphone", 1, 30, testToken())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	first := items[0]
	if first.ID != "111" || first.Title != "iPhone 13" {
		t.Fatalf("first item = %+v", first)
	}
	if first.Price != 1299 {
		t.Fatalf("price = %v", first.Price)
	}
	if first.Location != "Hangzhou" || first.Seller != "seller1" {
		t.Fatalf("item = %+v", first)
	}
	if len(first.Images) != 1 || first.Images[0] != "https://img.example.com/111.jpg" {
		t.Fatalf("images = %v", first.Images)
	}
	if first.Site != "goofish" || first.Query != "iphone" {
		t.Fatalf("item = %+v", first)
	}
	if first.AgeMinutes < 29 || first.AgeMinutes > 31 {
		t.Fatalf("age = %d, want ~30", first.AgeMinutes)
	}
	if items[1].Price != 899.50 {
		t.Fatalf("second price = %v", items[1].Price)
	}

	// The request must carry the signature, timestamp and session cookies.
	for _, param := range []string{"sign=", "t=", "appKey=12345678"} {
		if !contains(gotQuery, param) {
			t.Fatalf("query %q missing %q", gotQuery, param)
		}
	}
	if !contains(gotCookie, session.TokenCookie+"=testseed_12345") {
		t.Fatalf("cookie header = %q", gotCookie)
	}
}

func TestSearchEmptyPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, successBody())
	})

	_, err := c.Search(context.Background(), "rare thing", 1, 30, testToken())
	if market.Kind(err) != market.KindEmptyPage {
		t.Fatalf("kind = %v, want empty_page (err=%v)", market.Kind(err), err)
	}
}

func TestSearchAuthError(t *testing.T) {
	for _, ret := range []string{
		"FAIL_SYS_TOKEN_EXPIRED::令牌过期",
		"FAIL_SYS_TOKEN_EXOIRED::令牌过期",
		"FAIL_SYS_TOKEN_EMPTY::令牌为空",
		"FAIL_SYS_SESSION_EXPIRED::session过期",
		"FAIL_SYS_ILLEGAL_ACCESS::非法请求",
	} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"ret":[%q],"data":{}}`, ret)
		})
		_, err := c.Search(context.Background(), "q", 1, 30, testToken())
		if market.Kind(err) != market.KindAuth {
			t.Fatalf("ret %q: kind = %v, want auth", ret, market.Kind(err))
		}
	}
}

func TestSearchBlocked(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ret":["RGV587_ERROR::哎哟喂,被挤爆啦,请稍后重试"],"data":{}}`)
	})
	_, err := c.Search(context.Background(), "q", 1, 30, testToken())
	if market.Kind(err) != market.KindBlocked {
		t.Fatalf("kind = %v, want blocked", market.Kind(err))
	}
}

func TestSearchBlockedStatus(t *testing.T) {
	for _, status := range []int{403, 429} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.Search(context.Background(), "q", 1, 30, testToken())
		if market.Kind(err) != market.KindBlocked {
			t.Fatalf("status %d: kind = %v, want blocked", status, market.Kind(err))
		}
	}
}

func TestSearchTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})
	_, err := c.Search(context.Background(), "q", 1, 30, testToken())
	if market.Kind(err) != market.KindTransient {
		t.Fatalf("kind = %v, want transient", market.Kind(err))
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	})
	_, err = c.Search(context.Background(), "q", 1, 30, testToken())
	if market.Kind(err) != market.KindTransient {
		t.Fatalf("kind = %v, want transient for malformed body", market.Kind(err))
	}
}

func TestSearchSkipsEntriesWithoutID(t *testing.T) {
	publish := time.Now().UnixMilli()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		noID := `{"data":{"item":{"main":{"exContent":{"title":"ghost"}}}}}`
		fmt.Fprint(w, successBody(noID, resultEntry("333", "real", "10", publish)))
	})

	items, err := c.Search(context.Background(), "q", 1, 30, testToken())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].ID != "333" {
		t.Fatalf("items = %+v", items)
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
