package ledger

import (
	"os"
	"path/filepath"
	"testing"
)

func testNaming(dir string) Naming {
	return Naming{Dir: dir, Base: "combined_step_log", Ext: ".txt"}
}

func writeLog(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNaming(t *testing.T) {
	n := testNaming("logs")

	if got := n.Name(0); got != "combined_step_log.txt" {
		t.Errorf("Name(0) = %q", got)
	}
	if got := n.Name(7); got != "combined_step_log_7.txt" {
		t.Errorf("Name(7) = %q", got)
	}
	if got := n.Path(2); got != filepath.Join("logs", "combined_step_log_2.txt") {
		t.Errorf("Path(2) = %q", got)
	}

	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"combined_step_log.txt", 0, true},
		{"combined_step_log_0.txt", 0, true},
		{"combined_step_log_12.txt", 12, true},
		{"combined_step_log_.txt", 0, false},
		{"combined_step_log_x1.txt", 0, false},
		{"combined_step_log_-1.txt", 0, false},
		{"combined_step_log_3.csv", 0, false},
		{"other_3.txt", 0, false},
	}
	for _, tt := range tests {
		got, ok := n.Index(tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Index(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRecoverEmptyDir(t *testing.T) {
	st, err := Recover(testNaming(t.TempDir()))
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if st.Index != 0 || st.Offset != (Position{}) {
		t.Errorf("Recover() = %+v, want zero", st)
	}
}

func TestRecoverMissingDir(t *testing.T) {
	st, err := Recover(testNaming(filepath.Join(t.TempDir(), "absent")))
	if err != nil || st.Index != 0 || st.Offset != (Position{}) {
		t.Errorf("Recover() = %+v, %v; want zero, nil", st, err)
	}
}

func TestRecoverSingleCounterEntry(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "combined_step_log.txt", "1000000,42\n")

	st, err := Recover(testNaming(dir))
	if err != nil {
		t.Fatal(err)
	}
	if st.Index != 0 || st.Offset.Az != 42 || st.Offset.El != 0 {
		t.Errorf("Recover() = %+v, want index 0, offset az 42", st)
	}
}

func TestRecoverUnterminatedRows(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Position
	}{
		{"single_counter_only", "1000000,42", Position{Az: 42}},
		{"final_row_after_others", Header + "\n1,5,6\n2,7,8", Position{Az: 7, El: 8}},
		{"trailing_spaces", Header + "\n1,5,6\n2,-3,4  ", Position{Az: -3, El: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeLog(t, dir, "combined_step_log.txt", tt.content)

			st, err := Recover(testNaming(dir))
			if err != nil {
				t.Fatal(err)
			}
			if st.Index != 0 || st.Offset != tt.want {
				t.Errorf("Recover() = %+v, want index 0 offset %+v", st, tt.want)
			}
			if st.Skipped != 0 {
				t.Errorf("Skipped = %d, want 0", st.Skipped)
			}
		})
	}
}

func TestRecoverHighestIndexLastRow(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "combined_step_log.txt", Header+"\n1,900,900\n")
	writeLog(t, dir, "combined_step_log_2.txt", Header+"\n10,5,-3\n11,100,-7\n")
	writeLog(t, dir, "combined_step_log_10.txt", Header+"\n20,250,40\n21,300,-50\n")
	writeLog(t, dir, "unrelated.txt", "30,1,1\n")

	st, err := Recover(testNaming(dir))
	if err != nil {
		t.Fatal(err)
	}
	if st.Index != 10 {
		t.Errorf("Index = %d, want 10", st.Index)
	}
	if st.Offset != (Position{Az: 300, El: -50}) {
		t.Errorf("Offset = %+v, want {300 -50}", st.Offset)
	}
	if st.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", st.Skipped)
	}
}

func TestRecoverSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "combined_step_log_1.txt",
		Header+"\n10,5,6\nnot,a,row\n12,7\n13,1,2,3\n14,9,") // trailing row is cut short

	st, err := Recover(testNaming(dir))
	if err != nil {
		t.Fatal(err)
	}
	// "12,7" is a single-counter row: az=7, el kept from the previous row.
	if st.Offset != (Position{Az: 7, El: 6}) {
		t.Errorf("Offset = %+v, want {7 6}", st.Offset)
	}
	if st.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", st.Skipped)
	}
}

func TestRecoverZeroSuffixSpelling(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "combined_step_log_0.txt", "5,11,12\n")

	st, err := Recover(testNaming(dir))
	if err != nil {
		t.Fatal(err)
	}
	if st.Index != 0 || st.Offset != (Position{Az: 11, El: 12}) {
		t.Errorf("Recover() = %+v", st)
	}
}

func TestLedgerApplyAndUpdate(t *testing.T) {
	l := New(State{Index: 3, Offset: Position{Az: 100, El: -20}})

	if got := l.Position(); got != (Position{Az: 100, El: -20}) {
		t.Errorf("initial Position() = %+v", got)
	}
	got := l.Apply(Position{Az: 5, El: 5})
	if got != (Position{Az: 105, El: -15}) {
		t.Errorf("Apply() = %+v", got)
	}
	l.Update(got)
	if l.Position() != got {
		t.Errorf("Position() = %+v after Update(%+v)", l.Position(), got)
	}
	if l.State().Index != 3 {
		t.Errorf("State().Index = %d", l.State().Index)
	}
}
