// Package initdata validates Telegram WebApp initData payloads.
//
// Reference: https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxAge bounds how old a payload's auth_date may be before it is rejected.
// A payload aged exactly MaxAge still passes; strictly older fails.
const MaxAge = 24 * time.Hour

// secretKeySeed is the fixed literal Telegram uses to derive the signing key
// from the bot token.
const secretKeySeed = "WebAppData"

// timeNow is overridable for tests.
var timeNow = time.Now

// WebAppUser is the identity payload embedded in the user field.
type WebAppUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
	PhotoURL     string `json:"photo_url"`
}

// Validate reports whether the raw initData string carries a valid signature
// for the given bot token and is not stale. It fails closed: any parse error
// yields false, never a panic or an error to the caller.
func Validate(initData, botToken string) bool {
	if initData == "" || botToken == "" {
		return false
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return false
	}

	suppliedHash := values.Get("hash")
	if suppliedHash == "" {
		return false
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	checkPairs := make([]string, 0, len(keys))
	for _, key := range keys {
		checkPairs = append(checkPairs, key+"="+values.Get(key))
	}
	checkString := strings.Join(checkPairs, "\n")

	// Secret key: HMAC-SHA256 of the bot token keyed by "WebAppData".
	keyMAC := hmac.New(sha256.New, []byte(secretKeySeed))
	keyMAC.Write([]byte(botToken))
	secretKey := keyMAC.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	calculated := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(calculated), []byte(suppliedHash)) {
		return false
	}

	if authDateRaw := values.Get("auth_date"); authDateRaw != "" {
		authDate, err := strconv.ParseInt(authDateRaw, 10, 64)
		if err != nil {
			return false
		}

		if timeNow().Unix()-authDate > int64(MaxAge/time.Second) {
			return false
		}
	}

	return true
}

// UserData parses the user field of the payload. It does not verify the
// signature; callers must gate trust on Validate separately.
func UserData(initData string) (WebAppUser, bool) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, false
	}

	raw := values.Get("user")
	if raw == "" {
		return WebAppUser{}, false
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return WebAppUser{}, false
	}

	return user, true
}

// UserID extracts the Telegram user id from the payload's user field,
// independent of hash validity.
func UserID(initData string) (int64, bool) {
	user, ok := UserData(initData)
	if !ok || user.ID == 0 {
		return 0, false
	}

	return user.ID, true
}

// StartParam returns the start_param field Telegram embeds when the Mini App
// is opened through a deep link; empty when absent.
func StartParam(initData string) string {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return ""
	}

	return values.Get("start_param")
}

// Sign computes a valid hash for the given pairs; exported for test fixture
// construction in other packages.
func Sign(values url.Values, botToken string, authDate time.Time) string {
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	checkPairs := make([]string, 0, len(keys))
	for _, key := range keys {
		checkPairs = append(checkPairs, key+"="+values.Get(key))
	}

	keyMAC := hmac.New(sha256.New, []byte(secretKeySeed))
	keyMAC.Write([]byte(botToken))

	mac := hmac.New(sha256.New, keyMAC.Sum(nil))
	mac.Write([]byte(strings.Join(checkPairs, "\n")))

	return hex.EncodeToString(mac.Sum(nil))
}
