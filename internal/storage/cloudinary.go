package storage

import (
	"bytes"
	"context"
	"crypto/sha1" // #nosec G505 - Cloudinary request signatures are defined as SHA-1
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Static errors for Cloudinary client operations.
var (
	// ErrCloudinaryRequestFailed is returned when the API answers with a non-2xx status code.
	ErrCloudinaryRequestFailed = errors.New("cloudinary: request failed")
	// ErrCloudinaryUnexpectedResult is returned when destroy reports neither "ok" nor "not found".
	ErrCloudinaryUnexpectedResult = errors.New("cloudinary: unexpected destroy result")
)

// Compile-time check that CloudinaryClient implements Uploader.
var _ Uploader = (*CloudinaryClient)(nil)

// CloudinaryClient uploads media through Cloudinary's signed upload API.
type CloudinaryClient struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// CloudinaryOption is a function that configures a CloudinaryClient.
type CloudinaryOption func(*CloudinaryClient)

// WithCloudinaryBaseURL sets a custom base URL for the Cloudinary API.
func WithCloudinaryBaseURL(u string) CloudinaryOption {
	return func(c *CloudinaryClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithCloudinaryHTTPClient sets a custom HTTP client.
func WithCloudinaryHTTPClient(hc *http.Client) CloudinaryOption {
	return func(c *CloudinaryClient) {
		c.httpClient = hc
	}
}

// NewCloudinaryClient creates a new Cloudinary client. Credentials are not
// validated here; Upload and Destroy return ErrNotConfigured when any is empty.
func NewCloudinaryClient(cloudName, apiKey, apiSecret string, opts ...CloudinaryOption) *CloudinaryClient {
	c := &CloudinaryClient{
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   "https://api.cloudinary.com/v1_1",
		// No client timeout: uploads are bounded by the gateway deadline.
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CloudinaryClient) configured() bool {
	return c.cloudName != "" && c.apiKey != "" && c.apiSecret != ""
}

// Upload sends data to the upload endpoint of the profile's resource type.
func (c *CloudinaryClient) Upload(ctx context.Context, data []byte, profile Profile) (Descriptor, error) {
	if !c.configured() {
		return Descriptor{}, ErrNotConfigured
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	if profile.Folder != "" {
		params["folder"] = profile.Folder
	}
	if t := profile.Transformation(); t != "" {
		params["transformation"] = t
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range c.signedParams(params) {
		if err := mw.WriteField(k, v); err != nil {
			return Descriptor{}, fmt.Errorf("cloudinary: write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		return Descriptor{}, fmt.Errorf("cloudinary: create file part: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return Descriptor{}, fmt.Errorf("cloudinary: write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Descriptor{}, fmt.Errorf("cloudinary: close multipart body: %w", err)
	}

	endpoint := c.endpoint(profile, "upload")

	var resp uploadResponse
	if err := c.doRequest(ctx, endpoint, mw.FormDataContentType(), &body, &resp); err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		PublicID: resp.PublicID,
		Bytes:    resp.Bytes,
		Duration: resp.Duration,
	}, nil
}

// Destroy deletes an uploaded object. A "not found" result is treated as success.
func (c *CloudinaryClient) Destroy(ctx context.Context, publicID string, profile Profile) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	for k, v := range c.signedParams(map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}) {
		form.Set(k, v)
	}

	endpoint := c.endpoint(profile, "destroy")

	var resp destroyResponse
	if err := c.doRequest(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrDestroyFailed, err)
	}

	switch resp.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("%w: %w: %q", ErrDestroyFailed, ErrCloudinaryUnexpectedResult, resp.Result)
	}
}

func (c *CloudinaryClient) endpoint(profile Profile, action string) string {
	resourceType := profile.ResourceType
	if resourceType == "" {
		resourceType = "image"
	}
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, url.PathEscape(c.cloudName), resourceType, action)
}

// signedParams returns params plus api_key and signature.
func (c *CloudinaryClient) signedParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out["signature"] = sign(params, c.apiSecret)
	out["api_key"] = c.apiKey
	return out
}

// sign computes the Cloudinary request signature: the hex SHA-1 of the
// params sorted by name, joined as k=v with '&', followed by the secret.
func sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// doRequest performs a single POST. There is no retry: a failed upload is
// reported to the caller as is.
func (c *CloudinaryClient) doRequest(ctx context.Context, endpoint, contentType string, body io.Reader, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("cloudinary: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cloudinary: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return fmt.Errorf("%w with status %d: %s", ErrCloudinaryRequestFailed, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("cloudinary: unmarshal response: %w", err)
	}

	return nil
}

// uploadResponse is the subset of the upload API response the pipeline reads.
type uploadResponse struct {
	PublicID string   `json:"public_id"`
	Bytes    int64    `json:"bytes"`
	Duration *float64 `json:"duration,omitempty"`
}

// destroyResponse is the response of the destroy API.
type destroyResponse struct {
	Result string `json:"result"`
}

// errorResponse is the error body returned with non-2xx statuses.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
