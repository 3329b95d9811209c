package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"fronix-gateway/core/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFunctionRegistry(t *testing.T) {
	r := NewFunctionRegistry(NewMetrics(nil), newTestLogger())
	r.Register(&stubFunction{name: "b", result: map[string]int{"n": 1}})
	r.Register(&stubFunction{name: "a", result: "x"})

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Name, "definitions keep registration order")

	out, err := r.Execute(context.Background(), "b", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, out)

	_, err = r.Execute(context.Background(), "missing", "{}")
	assert.ErrorIs(t, err, ErrFunctionNotFound)

	_, err = r.Execute(context.Background(), "a", "{broken")
	assert.Error(t, err)

	var nilRegistry *FunctionRegistry
	assert.Zero(t, nilRegistry.Len())
	assert.Nil(t, nilRegistry.Definitions())
}

func TestWebSearchFunction(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"web":{"results":[
			{"title":"Go","url":"https://go.dev","description":"The Go language"},
			{"title":"Tour","link":"https://go.dev/tour","snippet":"A tour"},
			{"title":"Blog","url":"https://go.dev/blog"}
		]}}`)
	}))
	defer srv.Close()

	fn := NewWebSearchFunction(srv.Client(), srv.URL+"/search", "search-key")
	out, err := fn.Execute(context.Background(), `{"query":"golang","max_results":2}`)
	require.NoError(t, err)

	assert.Equal(t, "golang", gotQuery.Get("q"))
	assert.Equal(t, "2", gotQuery.Get("count"))
	assert.Equal(t, "Bearer search-key", gotAuth)

	data, _ := json.Marshal(out)
	assert.Equal(t, int64(2), gjson.GetBytes(data, "results.#").Int())
	assert.Equal(t, "The Go language", gjson.GetBytes(data, "results.0.snippet").String())
	assert.Equal(t, "https://go.dev/tour", gjson.GetBytes(data, "results.1.url").String())
}

func TestWebSearchFunction_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	fn := NewWebSearchFunction(srv.Client(), srv.URL, "")

	_, err := fn.Execute(context.Background(), `{"query":"  "}`)
	assert.Error(t, err)

	_, err = fn.Execute(context.Background(), `{"query":"go"}`)
	var upstream *UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func newImageServer(t *testing.T, check func(r *http.Request, body []byte)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		check(r, body)
		io.WriteString(w, `{"created":1700000000,"data":[{"url":"https://img.example/1.png","revised_prompt":"a red fox"}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImageGenerationFunction(t *testing.T) {
	srv := newImageServer(t, func(r *http.Request, body []byte) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer img-key", r.Header.Get("Authorization"))
		assert.Equal(t, "provider-3/dall-e-3", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "1024x1024", gjson.GetBytes(body, "size").String())
		assert.Equal(t, int64(1), gjson.GetBytes(body, "n").Int())
		assert.Equal(t, "vivid", gjson.GetBytes(body, "style").String())
	})

	provider := &Provider{Name: "generic", Endpoint: srv.URL + "/v1", Pool: NewCredentialPool("generic", []string{"img-key"}, false)}
	images := NewImageService(NewResilientRequester(srv.Client(), nil, newTestLogger()), adapter.NewOpenAIAdapter(), provider, newTestLogger())

	out, err := NewImageGenerationFunction(images, "provider-3/dall-e-3").Execute(context.Background(), `{"prompt":"a fox"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "https://img.example/1.png", "revised_prompt": "a red fox"}, out)

	_, err = NewImageGenerationFunction(images, "m").Execute(context.Background(), `{}`)
	assert.Error(t, err)
}

func TestImageEditFunction(t *testing.T) {
	srv := newImageServer(t, func(r *http.Request, body []byte) {
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		assert.Equal(t, "https://img.example/0.png", gjson.GetBytes(body, "image").String())
		assert.Equal(t, "make it blue", gjson.GetBytes(body, "prompt").String())
	})

	provider := &Provider{Name: "generic", Endpoint: srv.URL + "/v1", Pool: NewCredentialPool("generic", []string{"k"}, false)}
	images := NewImageService(NewResilientRequester(srv.Client(), nil, newTestLogger()), adapter.NewOpenAIAdapter(), provider, newTestLogger())

	out, err := NewImageEditFunction(images, "gpt-image-1").Execute(context.Background(), `{"image_url":"https://img.example/0.png","prompt":"make it blue"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "https://img.example/1.png"}, out)
}

func TestImageHost_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "host-key", r.PostForm.Get("key"))
		assert.Equal(t, "aGVsbG8=", r.PostForm.Get("image"))
		io.WriteString(w, `{"data":{"url":"https://i.example/x.png","delete_url":"https://i.example/del/x"},"success":true}`)
	}))
	defer srv.Close()

	host := NewImageHost(srv.Client(), srv.URL, "host-key", newTestLogger())
	require.True(t, host.Configured())

	res, err := host.Upload(context.Background(), "data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "https://i.example/x.png", res.URL)
	assert.Equal(t, "https://i.example/del/x", res.DeleteURL)

	_, err = host.Upload(context.Background(), "data:image/png;base64")
	assert.Error(t, err)

	assert.False(t, NewImageHost(srv.Client(), srv.URL, "", newTestLogger()).Configured())
}
