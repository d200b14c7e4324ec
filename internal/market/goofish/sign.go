package goofish

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// Sign computes the mtop request signature: the hex MD5 of
// "seed&timestamp&appKey&data", where data is the JSON-serialized request
// body. The seed comes from the session token; timestamp is unix
// milliseconds and must be sent as the "t" query parameter alongside the
// signature.
func Sign(seed string, timestampMS int64, appKey, data string) string {
	payload := seed + "&" + strconv.FormatInt(timestampMS, 10) + "&" + appKey + "&" + data
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
