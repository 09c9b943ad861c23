package renderer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/etnz/taxfolio"
)

// ConditionalBlock let you fully write a block and decide at the end to print it or not.
// If the block function returns true, the content is printed to w, otherwise it is discarded.
func ConditionalBlock(w io.Writer, block func(io.Writer) bool) {
	bw := &bytes.Buffer{}
	if block(bw) {
		io.Copy(w, bw)
	}
}

// row writes a markdown table row.
func row(w io.Writer, cells ...string) {
	fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
}

// header writes a markdown table header. Columns starting with '>' are right aligned.
func header(w io.Writer, columns ...string) {
	names := make([]string, len(columns))
	align := make([]string, len(columns))
	for i, c := range columns {
		if strings.HasPrefix(c, ">") {
			names[i], align[i] = c[1:], "---:"
		} else {
			names[i], align[i] = c, ":---"
		}
	}
	row(w, names...)
	row(w, align...)
}

// amount renders money with its currency digits, or "-" when zero.
func amount(m taxfolio.Money) string {
	if m.IsZero() {
		return "-"
	}
	return m.String()
}

func bold(s string) string { return "**" + s + "**" }
