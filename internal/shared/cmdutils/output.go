package cmdutils

import (
	"fmt"
	"io"
)

const Logo = "🌿"

// PrintResponse writes an assistant answer to w with the lyn header.
func PrintResponse(w io.Writer, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(w, "\n%s lyn\n%s\n\n", Logo, text)
}
