package sheets

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	sheetsapi "google.golang.org/api/sheets/v4"
)

type fakeSheet struct {
	id    int64
	title string
	rows  [][]string
}

// fakeAPI is a tiny in-memory stand-in for the Sheets v4 REST surface used
// by Store.
type fakeAPI struct {
	mu       sync.Mutex
	books    map[string][]*fakeSheet
	failures []int
	requests int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{books: make(map[string][]*fakeSheet)}
}

func (f *fakeAPI) addSheet(book, title string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next int64
	for _, sh := range f.books[book] {
		if sh.id >= next {
			next = sh.id + 1
		}
	}
	f.books[book] = append(f.books[book], &fakeSheet{id: next, title: title, rows: rows})
}

func (f *fakeAPI) rows(book, title string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sh := f.find(book, title); sh != nil {
		return sh.rows
	}
	return nil
}

func (f *fakeAPI) failNext(codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, codes...)
}

func (f *fakeAPI) find(book, title string) *fakeSheet {
	for _, sh := range f.books[book] {
		if sh.title == title {
			return sh
		}
	}
	return nil
}

func apiError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}

func reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// parseRange splits 'Title'!B3 into the title and 0-based coordinates.
// row is -1 for a whole-sheet range and col is -1 for a whole-row range.
func parseRange(a1 string) (title string, row, col int, err error) {
	if !strings.HasPrefix(a1, "'") {
		return "", 0, 0, fmt.Errorf("unquoted range %q", a1)
	}
	i := 1
	var b strings.Builder
	for ; i < len(a1); i++ {
		if a1[i] == '\'' {
			if i+1 < len(a1) && a1[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			break
		}
		b.WriteByte(a1[i])
	}
	title = b.String()
	rest := strings.TrimPrefix(a1[i+1:], "!")
	if rest == "" {
		return title, -1, -1, nil
	}
	if n, _, ok := strings.Cut(rest, ":"); ok {
		row, err := strconv.Atoi(n)
		return title, row - 1, -1, err
	}
	j := strings.IndexAny(rest, "0123456789")
	if j <= 0 {
		return "", 0, 0, fmt.Errorf("bad cell %q", rest)
	}
	col = 0
	for _, c := range rest[:j] {
		col = col*26 + int(c-'A'+1)
	}
	row, err = strconv.Atoi(rest[j:])
	return title, row - 1, col - 1, err
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	if len(f.failures) > 0 {
		code := f.failures[0]
		f.failures = f.failures[1:]
		apiError(w, code, http.StatusText(code))
		return
	}

	path := strings.TrimPrefix(r.URL.EscapedPath(), "/v4/spreadsheets/")
	if book, ok := strings.CutSuffix(path, ":batchUpdate"); ok {
		f.batchUpdate(w, r, book)
		return
	}
	book, encoded, hasRange := strings.Cut(path, "/values/")
	if _, ok := f.books[book]; !ok {
		apiError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	if !hasRange {
		var resp sheetsapi.Spreadsheet
		for _, sh := range f.books[book] {
			resp.Sheets = append(resp.Sheets, &sheetsapi.Sheet{
				Properties: &sheetsapi.SheetProperties{SheetId: sh.id, Title: sh.title},
			})
		}
		reply(w, &resp)
		return
	}

	a1, err := url.PathUnescape(encoded)
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	title, row, col, err := parseRange(a1)
	sh := f.find(book, title)
	if err != nil || sh == nil {
		apiError(w, http.StatusBadRequest, "Unable to parse range: "+a1)
		return
	}

	switch r.Method {
	case http.MethodGet:
		resp := sheetsapi.ValueRange{Range: a1}
		for i, cells := range sh.rows {
			if row >= 0 && i != row {
				continue
			}
			var out []interface{}
			for j, v := range cells {
				if col >= 0 && j != col {
					continue
				}
				out = append(out, v)
			}
			if row >= 0 && col >= 0 && len(out) == 0 {
				continue
			}
			resp.Values = append(resp.Values, out)
		}
		reply(w, &resp)
	case http.MethodPut:
		var body sheetsapi.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apiError(w, http.StatusBadRequest, err.Error())
			return
		}
		if col < 0 {
			col = 0
		}
		for i, cells := range body.Values {
			for len(sh.rows) <= row+i {
				sh.rows = append(sh.rows, nil)
			}
			for j, v := range cells {
				for len(sh.rows[row+i]) <= col+j {
					sh.rows[row+i] = append(sh.rows[row+i], "")
				}
				sh.rows[row+i][col+j] = fmt.Sprint(v)
			}
		}
		reply(w, &sheetsapi.UpdateValuesResponse{UpdatedRange: a1})
	default:
		apiError(w, http.StatusMethodNotAllowed, r.Method)
	}
}

func (f *fakeAPI) batchUpdate(w http.ResponseWriter, r *http.Request, book string) {
	var req sheetsapi.BatchUpdateSpreadsheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, q := range req.Requests {
		switch {
		case q.DuplicateSheet != nil:
			d := q.DuplicateSheet
			if f.find(book, d.NewSheetName) != nil {
				apiError(w, http.StatusBadRequest, fmt.Sprintf("A sheet with the name %q already exists.", d.NewSheetName))
				return
			}
			var src *fakeSheet
			var next int64
			for _, sh := range f.books[book] {
				if sh.id == d.SourceSheetId {
					src = sh
				}
				if sh.id >= next {
					next = sh.id + 1
				}
			}
			if src == nil {
				apiError(w, http.StatusBadRequest, "No sheet with id")
				return
			}
			rows := make([][]string, len(src.rows))
			for i := range src.rows {
				rows[i] = append([]string(nil), src.rows[i]...)
			}
			f.books[book] = append(f.books[book], &fakeSheet{id: next, title: d.NewSheetName, rows: rows})
		case q.InsertDimension != nil:
			rg := q.InsertDimension.Range
			var sh *fakeSheet
			for _, s := range f.books[book] {
				if s.id == rg.SheetId {
					sh = s
				}
			}
			if sh == nil {
				apiError(w, http.StatusBadRequest, "No sheet with id")
				return
			}
			at := int(rg.StartIndex)
			for len(sh.rows) < at {
				sh.rows = append(sh.rows, nil)
			}
			sh.rows = append(sh.rows, nil)
			copy(sh.rows[at+1:], sh.rows[at:])
			sh.rows[at] = nil
		}
	}
	reply(w, &sheetsapi.BatchUpdateSpreadsheetResponse{SpreadsheetId: book})
}
