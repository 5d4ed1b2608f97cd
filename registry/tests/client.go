package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"metro_platform/registry/services"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// Multipart attaches a file upload plus its json info part, the layout the
// create endpoints expect.
func (r *httpTestRequest) Multipart(file []byte, info interface{}) *httpTestRequest {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	infoJson, err := json.Marshal(info)
	if err != nil {
		panic(fmt.Sprintf("error encoding multipart info: %v", err))
	}
	if err := writer.WriteField("info", string(infoJson)); err != nil {
		panic(fmt.Sprintf("error writing multipart info field: %v", err))
	}

	part, err := writer.CreateFormFile("file", "upload.bin")
	if err != nil {
		panic(fmt.Sprintf("error creating multipart file part: %v", err))
	}
	if _, err := part.Write(file); err != nil {
		panic(fmt.Sprintf("error writing multipart file: %v", err))
	}
	if err := writer.Close(); err != nil {
		panic(fmt.Sprintf("error finishing multipart body: %v", err))
	}

	r.body = body
	return r.Header("Content-Type", writer.FormDataContentType())
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return &statusError{code: res.StatusCode, content: w.Body.String(), method: r.method, endpoint: r.endpoint}
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// DoRaw returns the raw response for endpoints that do not serve json.
func (r *httpTestRequest) DoRaw() (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()
	r.api.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		return w, &statusError{code: w.Code, content: w.Body.String(), method: r.method, endpoint: r.endpoint}
	}
	return w, nil
}

type statusError struct {
	code     int
	content  string
	method   string
	endpoint string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", e.method, e.endpoint, e.code, e.content)
}

// statusCode extracts the http status from a request error, 200 for nil.
func statusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.code
	}
	return -1
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) createAsset(params services.CreateAssetRequest, file []byte) (services.AssetInfo, error) {
	var info services.AssetInfo
	err := c.Post("/assets/").Multipart(file, params).Do(&info)
	return info, err
}

func (c *client) assetInfo(assetId string) (services.AssetInfo, error) {
	var info services.AssetInfo
	err := c.Get(fmt.Sprintf("/assets/%v", assetId)).Do(&info)
	return info, err
}

func (c *client) createVersion(assetId string, changes string, file []byte) (services.VersionInfo, error) {
	var info services.VersionInfo
	err := c.Post(fmt.Sprintf("/assets/%v/versions", assetId)).
		Multipart(file, services.CreateVersionRequest{Changes: changes}).
		Do(&info)
	return info, err
}

func (c *client) listVersions(assetId string) ([]services.VersionInfo, error) {
	var infos []services.VersionInfo
	err := c.Get(fmt.Sprintf("/assets/%v/versions", assetId)).Do(&infos)
	return infos, err
}

func (c *client) activeVersion(assetId string) (services.VersionInfo, error) {
	var info services.VersionInfo
	err := c.Get(fmt.Sprintf("/assets/%v/versions/active", assetId)).Do(&info)
	return info, err
}

func (c *client) updatePolicy(assetId string, params services.UpdatePolicyRequest) error {
	return c.Post(fmt.Sprintf("/assets/%v/policy", assetId)).Json(params).Do(nil)
}

func (c *client) getPolicy(assetId string) (services.AccessPolicyResponse, error) {
	var policy services.AccessPolicyResponse
	err := c.Get(fmt.Sprintf("/assets/%v/policy", assetId)).Do(&policy)
	return policy, err
}

func (c *client) listAssets(query string) (services.ListAssetsResponse, error) {
	var list services.ListAssetsResponse
	err := c.Get("/assets/list" + query).Do(&list)
	return list, err
}
