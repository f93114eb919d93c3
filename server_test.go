package main

import (
	"bytes"
	"charcards/config"
	"charcards/library"
	"charcards/models"
	"charcards/pngmeta"
	"charcards/storage"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewProviderSQL(":memory:", lg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	c := config.Default()
	c.PlaceholderWidth = 3
	c.PlaceholderHeight = 3
	srv := NewServer(library.New(store, c, lg), c, lg)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func upload(t *testing.T, url string, files map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestCharacterLifecycle(t *testing.T) {
	ts := newTestServer(t)
	resp := upload(t, ts.URL+"/api/characters", map[string]string{
		"kael.json":   `{"name":"Kael","tags":"brave, noble","x":1}`,
		"broken.json": `{"name":`,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var batch library.BatchResult
	decode(t, resp, &batch)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Imported, 1)
	id := batch.Imported[0].ID

	resp, err := http.Get(ts.URL + "/api/characters")
	require.NoError(t, err)
	var list []models.Character
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"brave", "noble"}, list[0].Tags)

	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/api/characters/"+id,
		strings.NewReader(`{"description":"A knight.","favorite":true}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var got models.Character
	decode(t, resp, &got)
	assert.Equal(t, "A knight.", got.Description)
	assert.True(t, got.Favorite)

	req, err = http.NewRequest(http.MethodPatch, ts.URL+"/api/characters/"+id,
		strings.NewReader(`{"lorebookEntries":[{"index":0,"keysText":"sword"}]}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/characters/" + id + "/card.json")
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Kael.json")
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "chara_card_v2", gjson.GetBytes(data, "spec").String())
	assert.Equal(t, int64(1), gjson.GetBytes(data, "data.x").Int())

	resp, err = http.Get(ts.URL + "/api/characters/" + id + "/card.png")
	require.NoError(t, err)
	data, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	cc, err := pngmeta.ReadCardChunk(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "A knight.", gjson.GetBytes(cc.Raw, "data.description").String())

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/characters/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/characters/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuickRepliesAndBundle(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/characters/blank", "application/json", strings.NewReader(`{"name":"Aria"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var c models.Character
	decode(t, resp, &c)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/characters/"+c.ID+"/quickreplies",
		strings.NewReader(`{"unrelated":true}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, ts.URL+"/api/characters/"+c.ID+"/quickreplies",
		strings.NewReader(`{"quickReplySlots":[{"mes":"/roll","label":"Roll"}]}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/characters/" + c.ID + "/quickreplies")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "Roll", gjson.GetBytes(data, "qrList.0.label").String())

	resp, err = http.Get(ts.URL + "/api/bundle")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "characters_")
}

func TestImportRejectsEmptyForm(t *testing.T) {
	ts := newTestServer(t)
	resp := upload(t, ts.URL+"/api/characters", map[string]string{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = upload(t, ts.URL+"/api/characters", map[string]string{"a.txt": "hello"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
