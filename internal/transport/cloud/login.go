package cloud

import (
	"context"
	"crypto/md5" //nolint:gosec // Protocol-mandated: the login endpoint expects an MD5 password hash
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

// loginBaseURL is the account server base. Package variable so tests can
// point it at a local server.
var loginBaseURL = "https://account.xiaomi.com/pass"

// Login endpoint constants.
const (
	// loginSID identifies the device-control service to the account server.
	loginSID = "xiaomiio"

	// jsonPrefix guards account server JSON responses against JSONP hijack.
	jsonPrefix = "&&&START&&&"
)

// loginStep1 is the serviceLogin response carrying the signing salt.
type loginStep1 struct {
	Sign string `json:"_sign"`
}

// loginStep2 is the serviceLoginAuth2 response.
type loginStep2 struct {
	Code      int    `json:"code"`
	Desc      string `json:"desc"`
	SSecurity string `json:"ssecurity"`
	UserID    int64  `json:"userId"`
	Location  string `json:"location"`
	// NotificationURL is set when the account requires 2FA; we cannot
	// complete that flow headlessly.
	NotificationURL string `json:"notificationUrl"`
}

// Login performs the multi-step account login and returns an auth
// context for the given API region.
//
// Steps:
//  1. GET serviceLogin to obtain the request sign
//  2. POST serviceLoginAuth2 with the MD5 password hash
//  3. GET the returned location to mint a serviceToken cookie
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - username: Account username (email, phone, or id)
//   - password: Account password
//   - region: API region code ("cn", "de", "us", ...)
//
// Returns:
//   - *AuthContext: Usable auth context shared by the account's sessions
//   - error: ErrLoginFailed describing the failing step
func Login(ctx context.Context, username, password, region string) (*AuthContext, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cookie jar: %w", ErrLoginFailed, err)
	}
	client := &http.Client{Jar: jar, Timeout: defaultTimeout}

	sign, err := fetchSign(ctx, client)
	if err != nil {
		return nil, err
	}

	step2, err := authenticate(ctx, client, username, password, sign)
	if err != nil {
		return nil, err
	}

	token, err := fetchServiceToken(ctx, client, step2.Location)
	if err != nil {
		return nil, err
	}

	return &AuthContext{
		UserID:       fmt.Sprintf("%d", step2.UserID),
		ServiceToken: token,
		SSecurity:    step2.SSecurity,
		Region:       region,
	}, nil
}

// fetchSign performs login step 1.
func fetchSign(ctx context.Context, client *http.Client) (string, error) {
	reqURL := loginBaseURL + "/serviceLogin?sid=" + loginSID + "&_json=true"
	body, err := loginGet(ctx, client, reqURL)
	if err != nil {
		return "", err
	}

	var step1 loginStep1
	if err := json.Unmarshal(stripJSONPrefix(body), &step1); err != nil {
		return "", fmt.Errorf("%w: parsing serviceLogin: %w", ErrLoginFailed, err)
	}
	if step1.Sign == "" {
		return "", fmt.Errorf("%w: serviceLogin returned no sign", ErrLoginFailed)
	}
	return step1.Sign, nil
}

// authenticate performs login step 2 with the hashed password.
func authenticate(ctx context.Context, client *http.Client, username, password, sign string) (*loginStep2, error) {
	hash := md5.Sum([]byte(password)) //nolint:gosec // Protocol-mandated password hash
	form := url.Values{
		"sid":      {loginSID},
		"hash":     {strings.ToUpper(fmt.Sprintf("%x", hash))},
		"callback": {"https://sts.api.io.mi.com/sts"},
		"qs":       {"%3Fsid%3D" + loginSID + "%26_json%3Dtrue"},
		"user":     {username},
		"_sign":    {sign},
		"_json":    {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginBaseURL+"/serviceLoginAuth2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: serviceLoginAuth2: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close on read path

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading serviceLoginAuth2: %w", ErrLoginFailed, err)
	}

	var step2 loginStep2
	if err := json.Unmarshal(stripJSONPrefix(body), &step2); err != nil {
		return nil, fmt.Errorf("%w: parsing serviceLoginAuth2: %w", ErrLoginFailed, err)
	}
	if step2.NotificationURL != "" {
		return nil, fmt.Errorf("%w: account requires two-factor verification", ErrLoginFailed)
	}
	if step2.Code != 0 {
		return nil, fmt.Errorf("%w: code %d: %s", ErrLoginFailed, step2.Code, step2.Desc)
	}
	if step2.SSecurity == "" || step2.Location == "" {
		return nil, fmt.Errorf("%w: incomplete auth response", ErrLoginFailed)
	}
	return &step2, nil
}

// fetchServiceToken performs login step 3: following the location mints
// the serviceToken cookie on the API domain.
func fetchServiceToken(ctx context.Context, client *http.Client, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching service token: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close on read path
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Body content is irrelevant; cookies matter

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "serviceToken" {
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("%w: no serviceToken cookie", ErrLoginFailed)
}

// loginGet performs one GET against the account server.
func loginGet(ctx context.Context, client *http.Client, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close on read path

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrLoginFailed, err)
	}
	return body, nil
}

// stripJSONPrefix removes the account server's anti-hijack prefix.
func stripJSONPrefix(body []byte) []byte {
	s := strings.TrimSpace(string(body))
	s = strings.TrimPrefix(s, jsonPrefix)
	return []byte(s)
}
