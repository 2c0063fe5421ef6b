package server

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/pipeline"
	"github.com/weddinglabs/cardpress/render"
	"github.com/weddinglabs/cardpress/session"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := session.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fonts := render.NewFontRegistry()
	srv := New(store, pipeline.NewRunner(fonts), fonts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	require.NotEmpty(t, body["id"])
	return body["id"]
}

func seedSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	id := createSession(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/images", []map[string]string{
		{"filename": "front.png", "imageBase64": pngBase64(t, 40, 56)},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id+"/names", map[string][]string{
		"names": {"Amit Patel"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cfg := api.DefaultPlacement(0)
	cfg.Enabled = true
	resp = doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id+"/configs/0", cfg)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	return id
}

func TestSessionLifecycle(t *testing.T) {
	ts := testServer(t)
	id := seedSession(t, ts)

	t.Run("position moves and clamps", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/configs/0/position",
			map[string]float64{"x": 150, "y": 30})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("locked position returns conflict", func(t *testing.T) {
		cfg := api.DefaultPlacement(0)
		cfg.Enabled = true
		cfg.Locked = true
		resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id+"/configs/0", cfg)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/configs/0/position",
			map[string]float64{"x": 10, "y": 10})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()

		cfg.Locked = false
		resp = doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id+"/configs/0", cfg)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("reorder rejects non-permutations", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/order",
			map[string][]int{"order": {3}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()

		resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/order",
			map[string][]int{"order": {0}})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/missing/names",
			map[string][]string{"names": {"X"}})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestPreviewEndpoint(t *testing.T) {
	ts := testServer(t)
	id := seedSession(t, ts)

	t.Run("svg by default", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/preview/0")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))

		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		assert.Contains(t, buf.String(), "Amit Patel")
	})

	t.Run("png on request", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/preview/0?format=png")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

		img, err := png.Decode(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, 40, img.Bounds().Dx())
	})

	t.Run("missing index is 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/preview/5")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestGenerateOnce(t *testing.T) {
	ts := testServer(t)

	cfg := api.DefaultPlacement(0)
	cfg.Enabled = true
	payload := map[string]any{
		"names": []string{"Amit Patel", "Priya Shah"},
		"images": []map[string]string{
			{"filename": "front.png", "imageBase64": pngBase64(t, 40, 56)},
		},
		"configs": []api.PlacementConfig{cfg},
		"options": api.RunOptions{Scale: 1},
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/generate", payload)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "wedding_cards.zip")

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	names := []string{zr.File[0].Name, zr.File[1].Name}
	assert.Contains(t, names, "Amit Patel.pdf")
	assert.Contains(t, names, "Priya Shah.pdf")
}

func TestGenerateOnceRejectsInvalidInput(t *testing.T) {
	ts := testServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/generate", map[string]any{
		"names":   []string{},
		"images":  []map[string]string{{"filename": "a.png", "imageBase64": pngBase64(t, 8, 8)}},
		"configs": []api.PlacementConfig{},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSessionGenerateFlow(t *testing.T) {
	ts := testServer(t)
	id := seedSession(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/generate",
		api.RunOptions{Scale: 1})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	// Edits are rejected while the run holds the session.
	resp = doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id+"/names",
		map[string][]string{"names": {"X"}})
	if resp.StatusCode != http.StatusOK {
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	}
	resp.Body.Close()

	type progress struct {
		pipeline.Update
		Error string `json:"error"`
		Files int    `json:"files"`
	}

	var last progress
	deadline := time.Now().Add(30 * time.Second)
	for !last.Phase.Terminal() {
		require.True(t, time.Now().Before(deadline), "run did not finish in time, phase=%s", last.Phase)
		resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/progress")
		require.NoError(t, err)
		decodeJSON(t, resp, &last)
		time.Sleep(50 * time.Millisecond)
	}

	require.Equal(t, pipeline.PhaseComplete, last.Phase, "run error: %s", last.Error)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, 1, last.Files)

	dl, err := http.Get(ts.URL + "/api/sessions/" + id + "/download")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(dl.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "Amit Patel.pdf", zr.File[0].Name)

	// The session unlocks once the run finishes.
	unlocked := false
	for end := time.Now().Add(5 * time.Second); time.Now().Before(end); time.Sleep(50 * time.Millisecond) {
		resp := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+id+"/names",
			map[string][]string{"names": {"Amit Patel"}})
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			unlocked = true
			break
		}
	}
	assert.True(t, unlocked, "session must unlock after the run completes")
}

func TestProgressWithoutRun(t *testing.T) {
	ts := testServer(t)
	id := createSession(t, ts)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/progress")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	ts := testServer(t)
	id := createSession(t, ts)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/download")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImageUploadDecodesDataURLAndSVG(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 140"><rect width="100" height="140" fill="#eee"/></svg>`

	t.Run("plain base64", func(t *testing.T) {
		u := imageUpload{Filename: "a.png", ImageBase64: pngBase64(t, 8, 8)}
		img, err := u.decode()
		require.NoError(t, err)
		assert.Equal(t, "a.png", img.Name)
	})

	t.Run("svg is rasterized", func(t *testing.T) {
		u := imageUpload{Filename: "a.svg", ImageBase64: base64.StdEncoding.EncodeToString([]byte(svg))}
		img, err := u.decode()
		require.NoError(t, err)
		w, h, err := img.Size()
		require.NoError(t, err)
		assert.Equal(t, 100, w)
		assert.Equal(t, 140, h)
	})

	t.Run("invalid base64", func(t *testing.T) {
		u := imageUpload{Filename: "a.png", ImageBase64: "!!not base64!!"}
		_, err := u.decode()
		assert.ErrorContains(t, err, "invalid base64")
	})
}
