package parsers

import (
	"strings"
	"testing"
)

func TestSniffDelimiter(t *testing.T) {
	rows := [][]string{
		{"Date", "Account", "Amount"},
		{"2024-01-01", "acc1", "100"},
		{"2024-01-02", "acc1", "200"},
		{"2024-01-03", "acc2", "300"},
		{"2024-01-04", "acc2", "400"},
		{"2024-01-05", "acc3", "500"},
	}

	for _, d := range AllowedDelimiters {
		t.Run(DelimiterName(d), func(t *testing.T) {
			var b strings.Builder
			for _, r := range rows {
				b.WriteString(strings.Join(r, string(d)))
				b.WriteString("\n")
			}
			if got := SniffDelimiter(b.String(), DefaultSampleSize); got != d {
				t.Errorf("SniffDelimiter() = %q, want %q", got, d)
			}
		})
	}
}

func TestSniffDelimiterEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		text string
		want rune
	}{
		{
			name: "no delimiter defaults to comma",
			text: "Date\n2024-01-01\n2024-01-02\n",
			want: ',',
		},
		{
			name: "empty input defaults to comma",
			text: "",
			want: ',',
		},
		{
			name: "quoted commas are ignored",
			text: "Name;Amount\n\"Smith, J\";1\n\"Doe, A, B\";2\n\"X\";3\n",
			want: ';',
		},
		{
			name: "decimal commas in data rows do not beat a consistent semicolon",
			text: "Date;Amount\n2024-01-01;1,5\n2024-01-02;2,25\n2024-01-03;3\n2024-01-04;4,1\n",
			want: ';',
		},
		{
			name: "inconsistent counts fall back to frequency",
			text: "a|b|c\nd|e\nf|g|h|i\nj\n",
			want: '|',
		},
		{
			name: "CRLF line endings",
			text: "a\tb\tc\r\n1\t2\t3\r\n4\t5\t6\r\n",
			want: '\t',
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffDelimiter(tt.text, DefaultSampleSize); got != tt.want {
				t.Errorf("SniffDelimiter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSniffDelimiterOnlyInspectsSample(t *testing.T) {
	var b strings.Builder
	b.WriteString("a;b;c\n")
	for b.Len() < DefaultSampleSize {
		b.WriteString("1;2;3\n")
	}
	// Beyond the sample the file switches to pipes, which must not matter.
	for i := 0; i < 500; i++ {
		b.WriteString("1|2|3|4|5|6\n")
	}

	if got := SniffDelimiter(b.String(), DefaultSampleSize); got != ';' {
		t.Errorf("SniffDelimiter() = %q, want ';'", got)
	}
}
