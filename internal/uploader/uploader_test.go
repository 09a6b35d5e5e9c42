package uploader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"itemuploader/internal/db"
	"itemuploader/internal/models"
	"itemuploader/internal/sheets"
	"itemuploader/pkg/config"
)

type testEnv struct {
	srv  *Server
	e    *echo.Echo
	db   *gorm.DB
	main sheets.Spreadsheet
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)

	main := sheets.NewStore(gdb, "main")
	for tab, vals := range map[string][][]string{
		"BASIC": {
			{"basic meta"},
			{"Product ID", "Category", "Product Name", "Product Description"},
			{"1001", "101 - Beauty/Skincare", "Face Cream", "Rich cream"},
		},
		"MEDIA": {
			{"media meta"},
			{"Product ID", "Image 1"},
		},
		"SALES": {
			{"sales meta"},
			{"Product ID", "SKU", "Parent SKU", "Variation Name", "Price"},
			{"1001", "CR-50", "CR", "50ml", "100"},
			{"1001", "CR-100", "CR", "100ml", "180"},
		},
	} {
		require.NoError(t, main.Replace(ctx, tab, vals))
	}
	ref := sheets.NewStore(gdb, "ref")
	require.NoError(t, ref.Replace(ctx, "TemplateDict", [][]string{
		{"Top", "Headers"},
		{"Beauty", "Product Name", "SKU", "Variation Name", "Product Description", "Variation Integration", "Stock", "Cover Image"},
	}))

	opener := &sheets.Opener{DB: gdb, MainID: "main", ReferenceID: "ref", Policy: sheets.RetryPolicy{Attempts: 1}}
	srv := NewServer(gdb, opener, nil, nil, config.DefaultPipeline())
	return &testEnv{srv: srv, e: NewEcho(srv), db: gdb, main: main}
}

func (env *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(t *testing.T, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return env.do(t, http.MethodPost, path, body, echo.MIMEApplicationJSON)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateRun_SucceedsAndDownloads(t *testing.T) {
	env := newEnv(t)
	rec := env.postJSON(t, "/pipeline/runs", map[string]string{
		"shop_code":  "SHOP1",
		"image_host": "https://img.example.com/covers",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view runView
	decode(t, rec, &view)
	assert.Equal(t, models.RunSucceeded, view.Status)
	assert.Equal(t, "main", view.SpreadsheetID)
	require.Len(t, view.Steps, 7)
	assert.Equal(t, exportTitle, view.Steps[6].Title)
	for _, st := range view.Steps {
		assert.True(t, st.Success, st.Title)
	}
	assert.Equal(t, "/pipeline/runs/"+view.ID+"/download", view.Download)

	tem, err := env.main.Values(context.Background(), "TEM_OUTPUT")
	require.NoError(t, err)
	require.Len(t, tem, 3)
	assert.Equal(t, "https://img.example.com/covers/CR-50_C_SHOP1.jpg", tem[1][8])
	assert.Equal(t, "V1001", tem[2][6])

	rec = env.do(t, http.MethodGet, "/pipeline/runs/"+view.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got runView
	decode(t, rec, &got)
	assert.Equal(t, view.ID, got.ID)
	assert.NotNil(t, got.FinishedAt)

	rec = env.do(t, http.MethodGet, view.Download, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "Shopee_Upload_Template.xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Beauty"}, f.GetSheetList())
}

func TestCreateRun_Validation(t *testing.T) {
	env := newEnv(t)
	cases := []map[string]string{
		{},
		{"shop_code": "   "},
		{"shop_code": "S", "notify_email": "not-an-email"},
		{"shop_code": "S", "image_host": "ftp://files.example.com"},
	}
	for _, body := range cases {
		rec := env.postJSON(t, "/pipeline/runs", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateRun_FailedStepIsRecorded(t *testing.T) {
	env := newEnv(t)
	rec := env.postJSON(t, "/pipeline/runs", map[string]string{"shop_code": "SHOP1"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var body struct {
		Error string  `json:"error"`
		Run   runView `json:"run"`
	}
	decode(t, rec, &body)
	assert.Contains(t, body.Error, "step 6")
	assert.Equal(t, models.RunFailed, body.Run.Status)
	require.Len(t, body.Run.Steps, 6)
	assert.False(t, body.Run.Steps[5].Success)
	assert.Empty(t, body.Run.Download)

	rec = env.do(t, http.MethodGet, "/pipeline/runs/"+body.Run.ID+"/download", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRun_RejectsConcurrentRun(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.srv.lock("main", "other"))
	defer env.srv.unlock("main")

	rec := env.postJSON(t, "/pipeline/runs", map[string]string{"shop_code": "S", "image_host": "https://img.example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRun_BadSheetOverride(t *testing.T) {
	env := newEnv(t)
	rec := env.postJSON(t, "/pipeline/runs", map[string]string{"shop_code": "S", "sheet": "not a sheet"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/pipeline/runs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"run not found"}`, rec.Body.String())
}

func xlsx(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		require.NoError(t, err)
		vals := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &vals))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

type part struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts ...part) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func TestUploads(t *testing.T) {
	env := newEnv(t)
	body, ct := multipartBody(t, nil,
		part{"files", "basic_info.xlsx", xlsx(t, [][]string{{"Product ID", "Name"}, {"2001", "Soap"}})},
		part{"files", "media_info.xlsx", xlsx(t, [][]string{{"Product ID", "Image"}, {"2001", "a.jpg"}})},
		part{"files", "sales_info.xlsx", xlsx(t, [][]string{{"Product ID", "SKU"}, {"2001", "SP-1"}})},
	)
	rec := env.do(t, http.MethodPost, "/uploads", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SpreadsheetID string   `json:"spreadsheet_id"`
		Logs          []string `json:"logs"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "main", resp.SpreadsheetID)
	assert.Contains(t, strings.Join(resp.Logs, "\n"), "[OK] BASIC: 2x2 applied")

	basic, err := env.main.Values(context.Background(), "BASIC")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Product ID", "Name"}, {"2001", "Soap"}}, basic)
}

func TestUploads_RequiresThreeWorkbooks(t *testing.T) {
	env := newEnv(t)
	body, ct := multipartBody(t, nil,
		part{"files", "basic.xlsx", xlsx(t, [][]string{{"a"}})},
		part{"files", "notes.txt", []byte("x")},
		part{"files", "sales.xlsx", xlsx(t, [][]string{{"a"}})},
	)
	rec := env.do(t, http.MethodPost, "/uploads", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func sourceUploads(t *testing.T) []part {
	t.Helper()
	return []part{
		{"files", "basic_info.xlsx", xlsx(t, [][]string{
			{"basic meta"},
			{"Product ID", "Category", "Product Name", "Product Description"},
			{"1001", "101 - Beauty/Skincare", "Face Cream", "Rich cream"},
		})},
		{"files", "media_info.xlsx", xlsx(t, [][]string{{"media meta"}, {"Product ID", "Image 1"}})},
		{"files", "sales_info.xlsx", xlsx(t, [][]string{
			{"sales meta"},
			{"Product ID", "SKU", "Parent SKU", "Variation Name", "Price"},
			{"1001", "CR-50", "CR", "50ml", "100"},
		})},
	}
}

func TestUploads_AcceptsMarginAndSheetsReadBack(t *testing.T) {
	env := newEnv(t)
	parts := append(sourceUploads(t), part{"files", "MARGIN.xlsx", xlsx(t, [][]string{
		{"SKU", "Brand", "Weight", "Cost", "Global SKU Price"},
		{"CR-50", "Acme", "0.2", "", "99"},
	})})
	body, ct := multipartBody(t, nil, parts...)
	rec := env.do(t, http.MethodPost, "/uploads", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "[OK] MARGIN: 2x5 applied")

	rec = env.do(t, http.MethodGet, "/sheets/MARGIN", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sheet struct {
		Tab    string     `json:"tab"`
		Values [][]string `json:"values"`
	}
	decode(t, rec, &sheet)
	assert.Equal(t, "MARGIN", sheet.Tab)
	assert.Equal(t, []string{"CR-50", "Acme", "0.2", "", "99"}, sheet.Values[1])

	rec = env.do(t, http.MethodGet, "/sheets", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tabs []string `json:"tabs"`
	}
	decode(t, rec, &list)
	assert.Contains(t, list.Tabs, "MARGIN")
	assert.Contains(t, list.Tabs, "BASIC")

	rec = env.do(t, http.MethodGet, "/sheets/Nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSheet_TabNameWithSpace(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.main.Replace(context.Background(), "cat props", [][]string{{"Category"}}))
	rec := env.do(t, http.MethodGet, "/sheets/cat%20props", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"tab":"cat props"`)
}

func TestImportReference_FeedsPipeline(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	ref := excelize.NewFile()
	require.NoError(t, ref.SetSheetName("Sheet1", "TemplateDict"))
	require.NoError(t, ref.SetSheetRow("TemplateDict", "A1", &[]string{"Top", "Headers"}))
	require.NoError(t, ref.SetSheetRow("TemplateDict", "A2", &[]string{"Beauty", "Product Name", "SKU", "Global SKU Price", "Cover Image"}))
	_, err := ref.NewSheet("Brand")
	require.NoError(t, err)
	require.NoError(t, ref.SetSheetRow("Brand", "A1", &[]string{"ID", "Name", "Code"}))
	var buf bytes.Buffer
	require.NoError(t, ref.Write(&buf))
	ref.Close()

	body, ct := multipartBody(t, nil, part{"file", "reference.xlsx", buf.Bytes()})
	rec := env.do(t, http.MethodPost, "/reference", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"spreadsheet_id":"ref","tabs":["TemplateDict","Brand"]}`, rec.Body.String())

	parts := append(sourceUploads(t), part{"files", "margin.xlsx", xlsx(t, [][]string{
		{"SKU", "Brand", "Weight", "Cost", "Global SKU Price"},
		{"CR-50", "Acme", "0.2", "", "99"},
	})})
	body, ct = multipartBody(t, nil, parts...)
	rec = env.do(t, http.MethodPost, "/uploads", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.postJSON(t, "/pipeline/runs", map[string]string{"shop_code": "SHOP1", "image_host": "https://img.example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tem, err := env.main.Values(ctx, "TEM_OUTPUT")
	require.NoError(t, err)
	require.Len(t, tem, 2)
	assert.Equal(t, []string{"", "Category", "Product Name", "SKU", "Global SKU Price", "Cover Image"}, tem[0])
	assert.Equal(t, "99", tem[1][4])

	rec = env.do(t, http.MethodGet, "/sheets/Failures", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"values":[["PID","Category","Name","Reason","Detail"]]`)
}

func TestImportReference_Errors(t *testing.T) {
	env := newEnv(t)

	body, ct := multipartBody(t, nil)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/reference", body, ct).Code)

	body, ct = multipartBody(t, nil, part{"file", "reference.csv", []byte("a,b")})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/reference", body, ct).Code)

	body, ct = multipartBody(t, nil, part{"file", "reference.xlsx", []byte("not a workbook")})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/reference", body, ct).Code)

	env.srv.opener.ReferenceID = "main"
	body, ct = multipartBody(t, nil, part{"file", "reference.xlsx", xlsx(t, [][]string{{"Top"}})})
	rec := env.do(t, http.MethodPost, "/reference", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "reference spreadsheet is the main spreadsheet")
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func cutoutPNG(t *testing.T) []byte {
	img := imaging.New(10, 10, color.NRGBA{})
	for y := 3; y < 7; y++ {
		for x := 3; x < 7; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	return pngBytes(t, img)
}

func TestCompose(t *testing.T) {
	env := newEnv(t)
	opaque := pngBytes(t, imaging.New(10, 10, color.NRGBA{G: 255, A: 255}))
	tpl := pngBytes(t, imaging.New(40, 40, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))

	body, ct := multipartBody(t, map[string]string{"anchor": "bottom-right", "format": "png", "shop_var": "SHOP1"},
		part{"items", "SKU-1.png", cutoutPNG(t)},
		part{"items", "flat.png", opaque},
		part{"templates", "summer.png", tpl},
	)
	rec := env.do(t, http.MethodPost, "/compose", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Image-Count"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "SKU-1_C_SHOP1.png", zr.File[0].Name)
}

func TestCompose_Errors(t *testing.T) {
	env := newEnv(t)
	tpl := pngBytes(t, imaging.New(20, 20, color.NRGBA{A: 255}))

	body, ct := multipartBody(t, nil, part{"templates", "t.png", tpl})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/compose", body, ct).Code)

	body, ct = multipartBody(t, map[string]string{"anchor": "middle"},
		part{"items", "a.png", cutoutPNG(t)}, part{"templates", "t.png", tpl})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/compose", body, ct).Code)

	body, ct = multipartBody(t, nil,
		part{"items", "flat.png", tpl}, part{"templates", "t.png", tpl})
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/compose", body, ct).Code)
}

func TestComposePreview(t *testing.T) {
	env := newEnv(t)
	tpl := pngBytes(t, imaging.New(30, 20, color.NRGBA{B: 255, A: 255}))
	body, ct := multipartBody(t, nil,
		part{"items", "a.png", cutoutPNG(t)}, part{"templates", "t.png", tpl})

	rec := env.do(t, http.MethodPost, "/compose/preview", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 20), img.Bounds().Size())
}

func TestStream(t *testing.T) {
	env := newEnv(t)
	ts := httptest.NewServer(env.e)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/pipeline/stream?shop_code=SHOP1&image_host=https://img.example.com"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var steps []streamMessage
	var final streamMessage
	for {
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != "step" {
			final = msg
			break
		}
		steps = append(steps, msg)
	}

	require.Len(t, steps, 14)
	assert.Equal(t, models.StepStarted, steps[0].Status)
	assert.Equal(t, 7, steps[0].Total)
	assert.Equal(t, exportTitle, steps[13].Title)
	assert.Equal(t, models.StepSucceeded, steps[13].Status)

	assert.Equal(t, "done", final.Type)
	require.NotNil(t, final.Run)
	assert.Equal(t, models.RunSucceeded, final.Run.Status)
}

func TestStream_RejectsMissingShopCode(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/pipeline/stream", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
