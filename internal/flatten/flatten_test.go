package flatten

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"treemerge/internal/merge"
	"treemerge/internal/merge/mergetest"
	"treemerge/internal/schema"
	"treemerge/internal/value"
)

// collected replays a Collector as a Source.
type collected struct {
	c *merge.Collector
	i int
}

func (s *collected) Configuration() *schema.Configuration { return s.c.Config }
func (s *collected) Next() bool {
	if s.i >= len(s.c.Events) {
		return false
	}
	s.i++
	return true
}
func (s *collected) Event() *merge.Event { return &s.c.Events[s.i-1] }
func (s *collected) Err() error          { return nil }

// flatRow is a copied Row.
type flatRow struct {
	Partition string
	Event     int64
	ID        int32
	Values    []string
}

// capture keeps every row it is given.
type capture struct {
	cols   []Column
	rows   []flatRow
	closed bool
}

func (c *capture) Begin(_ context.Context, cols []Column) error {
	c.cols = cols
	return nil
}

func (c *capture) WriteRow(_ context.Context, r Row) error {
	vals := make([]string, len(r.Values))
	for i, v := range r.Values {
		vals[i] = v.String()
	}
	c.rows = append(c.rows, flatRow{r.Partition, r.Event, r.ID, vals})
	return nil
}

func (c *capture) Close(context.Context) error {
	c.closed = true
	return nil
}

func mergedEvents(t *testing.T) *merge.Collector {
	t.Helper()
	d, err := merge.New(merge.Options{
		IncludeSimulation:    true,
		IncludeEventMetadata: true,
		Layout:               merge.DefaultLayout(),
		RunID:                "run-flat",
	})
	if err != nil {
		t.Fatalf("merge.New: %v", err)
	}
	c := &merge.Collector{}
	if _, err := d.Run(context.Background(), mergetest.Container(t, "DF_1", "DF_2"), nil, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return c
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func TestRun(t *testing.T) {
	c := mergedEvents(t)

	tests := []struct {
		name     string
		opts     Options
		wantCols []string
		wantRows []flatRow
	}{
		{
			name:     "all candidate fields",
			opts:     Options{},
			wantCols: []string{"KF_fPt", "KF_fSigBgStatus", "Lite_fEta", "fIndexCollisions"},
			wantRows: []flatRow{
				{"DF_1", 0, 0, []string{"1", "1", "0.1", "10"}},
				{"DF_1", 0, 1, []string{"null", "0", "0.2", "10"}},
				{"DF_1", 1, 0, []string{"3", "2", "0.3", "20"}},
				{"DF_2", 2, 0, []string{"1", "1", "0.1", "10"}},
				{"DF_2", 2, 1, []string{"null", "0", "0.2", "10"}},
				{"DF_2", 3, 0, []string{"3", "2", "0.3", "20"}},
			},
		},
		{
			name: "preserve with signal cut",
			opts: Options{
				Preserve: []string{"Lite_fEta", "KF_fPt"},
				Cuts:     []Cut{{Field: "KF_fSigBgStatus", Ranges: []Range{{Lo: 0.9, Hi: 2.1}}}},
			},
			wantCols: []string{"Lite_fEta", "KF_fPt"},
			wantRows: []flatRow{
				{"DF_1", 0, 0, []string{"0.1", "1"}},
				{"DF_1", 1, 0, []string{"0.3", "3"}},
				{"DF_2", 2, 0, []string{"0.1", "1"}},
				{"DF_2", 3, 0, []string{"0.3", "3"}},
			},
		},
		{
			name: "sidebands skip nulls",
			opts: Options{
				Preserve: []string{"KF_fSigBgStatus"},
				Cuts:     []Cut{{Field: "KF_fPt", Ranges: []Range{{Lo: 0, Hi: 0.5}, {Lo: 2.5, Hi: 3.5}}}},
			},
			wantCols: []string{"KF_fSigBgStatus"},
			wantRows: []flatRow{
				{"DF_1", 1, 0, []string{"2"}},
				{"DF_2", 3, 0, []string{"2"}},
			},
		},
		{
			name:     "simulated branch with prefix",
			opts:     Options{Branch: merge.BranchSimulated, PrependBranch: true},
			wantCols: []string{"Simulated_Sim_fFlagMc"},
			wantRows: []flatRow{
				{"DF_1", 0, 0, []string{"1"}},
				{"DF_1", 1, 0, []string{"2"}},
				{"DF_2", 2, 0, []string{"1"}},
				{"DF_2", 3, 0, []string{"2"}},
			},
		},
		{
			name:     "events branch",
			opts:     Options{Branch: merge.BranchEvents, Preserve: []string{"Ev_fPosZ"}},
			wantCols: []string{"Ev_fPosZ"},
			wantRows: []flatRow{
				{"DF_1", 0, 0, []string{"0.5"}},
				{"DF_1", 1, 0, []string{"-1.5"}},
				{"DF_2", 2, 0, []string{"0.5"}},
				{"DF_2", 3, 0, []string{"-1.5"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &capture{}
			st, err := Run(context.Background(), &collected{c: c}, tt.opts, w)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !w.closed {
				t.Fatal("writer not closed")
			}
			if got := names(w.cols); !reflect.DeepEqual(got, tt.wantCols) {
				t.Fatalf("columns = %v, want %v", got, tt.wantCols)
			}
			if !reflect.DeepEqual(w.rows, tt.wantRows) {
				t.Fatalf("rows = %+v\nwant %+v", w.rows, tt.wantRows)
			}
			if st.Events != 4 || st.Rows != int64(len(tt.wantRows)) {
				t.Fatalf("stats = %+v", st)
			}
		})
	}
}

func TestRunRejectsBadSelection(t *testing.T) {
	c := mergedEvents(t)

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"unknown branch", Options{Branch: "Tracks"}, ErrUnknownBranch},
		{"unknown preserved field", Options{Preserve: []string{"KF_fMass"}}, ErrUnknownField},
		{"unknown cut field", Options{Cuts: []Cut{{Field: "KF_fMass", Ranges: []Range{{0, 1}}}}}, ErrUnknownField},
		{"cut without ranges", Options{Cuts: []Cut{{Field: "KF_fPt"}}}, nil},
		{"preserved twice", Options{Preserve: []string{"KF_fPt", "KF_fPt"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &capture{}
			_, err := Run(context.Background(), &collected{c: c}, tt.opts, w)
			if err == nil {
				t.Fatal("Run succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if w.cols != nil {
				t.Fatal("writer begun for a rejected selection")
			}
		})
	}
}

func TestRunFixedColumnClash(t *testing.T) {
	cfg := &schema.Configuration{Branches: []*schema.Branch{{
		Name:   merge.BranchCandidates,
		Fields: []schema.Field{{Name: "id", Type: value.Int32}},
	}}}
	if _, err := Columns(cfg, Options{}); err == nil {
		t.Fatal("field named id accepted")
	}
}

type failingWriter struct{ capture }

func (f *failingWriter) WriteRow(context.Context, Row) error { return errors.New("disk full") }

func TestRunWriterErrorStillCloses(t *testing.T) {
	c := mergedEvents(t)
	w := &failingWriter{}
	_, err := Run(context.Background(), &collected{c: c}, Options{}, w)
	if err == nil || !w.closed {
		t.Fatalf("err = %v closed = %v", err, w.closed)
	}
}

func TestRunCanceled(t *testing.T) {
	c := mergedEvents(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, &collected{c: c}, Options{}, &capture{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
