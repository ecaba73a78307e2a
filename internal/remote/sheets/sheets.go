// Package sheets implements remote.Store on top of Google Sheets.
//
// Daily tables are worksheets of the daily spreadsheet titled with the date
// key (3/7/2026) and duplicated from a template worksheet. The roster lives
// in a single worksheet of the master spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/rollcall-dev/rollcall/internal/remote"
)

// Config holds Sheets store configuration.
type Config struct {
	// DailySpreadsheetID holds the template and one worksheet per day.
	DailySpreadsheetID string

	// MasterSpreadsheetID holds the roster worksheet.
	MasterSpreadsheetID string

	// MasterSheet is the roster worksheet title (default "Master").
	MasterSheet string

	// TemplateSheet is copied for each new day (default "Temp").
	TemplateSheet string

	// Credentials is the service-account JSON key.
	Credentials []byte

	// RequestTimeout bounds every HTTP request (default 30s).
	RequestTimeout time.Duration

	// PollAttempts and PollInterval bound the wait for a duplicated
	// worksheet to become readable (default 10 x 300ms).
	PollAttempts int
	PollInterval time.Duration

	Clock  quartz.Clock
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. Spreadsheet IDs and credentials
// must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		MasterSheet:    remote.DefaultMasterName,
		TemplateSheet:  remote.DefaultTemplateName,
		RequestTimeout: 30 * time.Second,
		PollAttempts:   10,
		PollInterval:   300 * time.Millisecond,
		Clock:          quartz.NewReal(),
		Logger:         log.New(os.Stderr, "[sheets] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.MasterSheet == "" {
		out.MasterSheet = def.MasterSheet
	}
	if out.TemplateSheet == "" {
		out.TemplateSheet = def.TemplateSheet
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = def.RequestTimeout
	}
	if out.PollAttempts <= 0 {
		out.PollAttempts = def.PollAttempts
	}
	if out.PollInterval < 0 {
		out.PollInterval = def.PollInterval
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return &out
}

// Store is a remote.Store backed by the Sheets v4 API.
type Store struct {
	config *Config
	dial   func(ctx context.Context) (*sheetsapi.Service, error)

	mu     sync.RWMutex
	srv    *sheetsapi.Service
	sheets map[string]map[string]int64 // spreadsheet -> title -> sheet id
}

var (
	_ remote.Store     = (*Store)(nil)
	_ remote.Connector = (*Store)(nil)
)

// New returns a store that authenticates with the service-account key in
// config.Credentials. No request is made until Connect.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(config.Credentials) == 0 {
		return nil, fmt.Errorf("credentials cannot be empty")
	}
	jwt, err := google.JWTConfigFromJSON(config.Credentials, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	s, err := newStore(config)
	if err != nil {
		return nil, err
	}
	s.dial = func(ctx context.Context) (*sheetsapi.Service, error) {
		client := jwt.Client(context.Background())
		client.Timeout = s.config.RequestTimeout
		return sheetsapi.NewService(ctx, option.WithHTTPClient(client))
	}
	return s, nil
}

// NewWithService returns a store over an existing service. Connect only
// refreshes the worksheet index.
func NewWithService(srv *sheetsapi.Service, config *Config) (*Store, error) {
	if srv == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	s, err := newStore(config)
	if err != nil {
		return nil, err
	}
	s.srv = srv
	return s, nil
}

// NewServiceForEndpoint builds an unauthenticated service talking to
// endpoint, for emulators and tests.
func NewServiceForEndpoint(ctx context.Context, endpoint string, client *http.Client) (*sheetsapi.Service, error) {
	opts := []option.ClientOption{option.WithEndpoint(endpoint), option.WithoutAuthentication()}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	return sheetsapi.NewService(ctx, opts...)
}

func newStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DailySpreadsheetID == "" || config.MasterSpreadsheetID == "" {
		return nil, fmt.Errorf("daily and master spreadsheet IDs are required")
	}
	return &Store{
		config: config.withDefaults(),
		sheets: make(map[string]map[string]int64),
	}, nil
}

// Connect opens a fresh API session and indexes the worksheets of both
// spreadsheets, which also proves they are reachable.
func (s *Store) Connect(ctx context.Context) error {
	if s.dial != nil {
		srv, err := s.dial(ctx)
		if err != nil {
			return classify("connect", err)
		}
		s.mu.Lock()
		s.srv = srv
		s.mu.Unlock()
	}
	if _, err := s.refresh(ctx, s.config.MasterSpreadsheetID); err != nil {
		return err
	}
	if _, err := s.refresh(ctx, s.config.DailySpreadsheetID); err != nil {
		return err
	}
	return nil
}

func (s *Store) service(op string) (*sheetsapi.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.srv == nil {
		return nil, remote.Transient(op, fmt.Errorf("%w: not connected", remote.ErrUnreachable))
	}
	return s.srv, nil
}

// refresh re-reads the worksheet titles of a spreadsheet.
func (s *Store) refresh(ctx context.Context, spreadsheetID string) (map[string]int64, error) {
	srv, err := s.service("list sheets")
	if err != nil {
		return nil, err
	}
	resp, err := srv.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, classify("list sheets", err)
	}
	index := make(map[string]int64, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			index[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	s.mu.Lock()
	s.sheets[spreadsheetID] = index
	s.mu.Unlock()
	return index, nil
}

// sheetID resolves a worksheet title, refreshing the index once on a miss.
func (s *Store) sheetID(ctx context.Context, op, spreadsheetID, title string) (int64, error) {
	s.mu.RLock()
	id, ok := s.sheets[spreadsheetID][title]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}
	index, err := s.refresh(ctx, spreadsheetID)
	if err != nil {
		return 0, err
	}
	if id, ok := index[title]; ok {
		return id, nil
	}
	return 0, remote.Schema(op, fmt.Errorf("%w: %q", remote.ErrTableNotFound, title))
}

func (s *Store) spreadsheetFor(t remote.Table) string {
	if t.Kind == remote.TableMaster {
		return s.config.MasterSpreadsheetID
	}
	return s.config.DailySpreadsheetID
}

func (s *Store) values(ctx context.Context, op string, t remote.Table, a1 string) ([][]string, error) {
	srv, err := s.service(op)
	if err != nil {
		return nil, err
	}
	resp, err := srv.Spreadsheets.Values.Get(s.spreadsheetFor(t), a1).Context(ctx).Do()
	if err != nil {
		return nil, classify(op, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = fmt.Sprint(v)
		}
		rows[i] = remote.TrimRow(row)
	}
	return rows, nil
}

func (s *Store) GetHeaders(ctx context.Context, t remote.Table) ([]string, error) {
	return s.GetRow(ctx, t, 0)
}

func (s *Store) GetAllRows(ctx context.Context, t remote.Table) ([][]string, error) {
	return s.values(ctx, "get all rows", t, SheetRange(t.Name))
}

func (s *Store) GetRow(ctx context.Context, t remote.Table, row int) ([]string, error) {
	if row < 0 {
		return []string{}, nil
	}
	rows, err := s.values(ctx, "get row", t, RowRange(t.Name, row))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []string{}, nil
	}
	return rows[0], nil
}

func (s *Store) GetCell(ctx context.Context, t remote.Table, row, col int) (string, error) {
	if row < 0 || col < 0 {
		return "", nil
	}
	rows, err := s.values(ctx, "get cell", t, CellRange(t.Name, row, col))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	return rows[0][0], nil
}

func (s *Store) write(ctx context.Context, op string, t remote.Table, a1 string, row []string) error {
	srv, err := s.service(op)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	body := &sheetsapi.ValueRange{Values: [][]interface{}{cells}}
	_, err = srv.Spreadsheets.Values.Update(s.spreadsheetFor(t), a1, body).
		ValueInputOption("RAW").Context(ctx).Do()
	return classify(op, err)
}

func (s *Store) SetCell(ctx context.Context, t remote.Table, row, col int, value string) error {
	if row < 0 || col < 0 {
		return remote.Fatal("set cell", fmt.Errorf("invalid cell %d,%d", row, col))
	}
	return s.write(ctx, "set cell", t, CellRange(t.Name, row, col), []string{value})
}

func (s *Store) InsertRow(ctx context.Context, t remote.Table, row int, values []string) error {
	const op = "insert row"
	if row < 1 {
		return remote.Fatal(op, fmt.Errorf("cannot insert above the header row (%d)", row))
	}
	spreadsheetID := s.spreadsheetFor(t)
	id, err := s.sheetID(ctx, op, spreadsheetID, t.Name)
	if err != nil {
		return err
	}
	srv, err := s.service(op)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			InsertDimension: &sheetsapi.InsertDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:         id,
					Dimension:       "ROWS",
					StartIndex:      int64(row),
					EndIndex:        int64(row + 1),
					ForceSendFields: []string{"SheetId"},
				},
				InheritFromBefore: true,
			},
		}},
	}
	if _, err := srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify(op, err)
	}
	if len(values) == 0 {
		return nil
	}
	return s.write(ctx, op, t, CellRange(t.Name, row, 0), values)
}

// EnsureDailyTable duplicates the template worksheet under the date key and
// waits until the copy is readable.
func (s *Store) EnsureDailyTable(ctx context.Context, dateKey string) (remote.Table, error) {
	const op = "ensure daily table"
	t := remote.Table{Name: dateKey, Kind: remote.TableDaily}
	spreadsheetID := s.config.DailySpreadsheetID

	index, err := s.refresh(ctx, spreadsheetID)
	if err != nil {
		return remote.Table{}, err
	}
	if _, ok := index[dateKey]; ok {
		return t, nil
	}
	tmpl, ok := index[s.config.TemplateSheet]
	if !ok {
		return remote.Table{}, remote.Schema(op, fmt.Errorf("%w: template %q", remote.ErrTableNotFound, s.config.TemplateSheet))
	}

	srv, err := s.service(op)
	if err != nil {
		return remote.Table{}, err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			DuplicateSheet: &sheetsapi.DuplicateSheetRequest{
				SourceSheetId:    tmpl,
				NewSheetName:     dateKey,
				InsertSheetIndex: 0,
				ForceSendFields:  []string{"SourceSheetId", "InsertSheetIndex"},
			},
		}},
	}
	if _, err := srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil && !alreadyExists(err) {
		return remote.Table{}, classify(op, err)
	}
	s.config.Logger.Printf("Created daily sheet %s from %s", dateKey, s.config.TemplateSheet)

	for attempt := 1; attempt <= s.config.PollAttempts; attempt++ {
		index, err := s.refresh(ctx, spreadsheetID)
		if err == nil {
			if _, ok := index[dateKey]; ok {
				if _, err := s.GetHeaders(ctx, t); err == nil {
					return t, nil
				}
			}
		}
		if attempt == s.config.PollAttempts {
			break
		}
		if err := s.sleep(ctx, s.config.PollInterval); err != nil {
			return remote.Table{}, remote.Transient(op, err)
		}
	}
	return remote.Table{}, remote.Transient(op, fmt.Errorf("%w: sheet %q not readable after %d attempts",
		remote.ErrUnreachable, dateKey, s.config.PollAttempts))
}

func (s *Store) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := s.config.Clock.NewTimer(d, "sheets", "poll")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Store) MasterTable() remote.Table {
	return remote.Table{Name: s.config.MasterSheet, Kind: remote.TableMaster}
}
