package generator

import (
	"encoding/json"
	"io"

	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/style"
)

// StateElementID is the id of the JSON block the page reads to sync its
// controls after a render.
const StateElementID = "khatt-state"

// renderView writes the live region: the preview followed by the panel
// state. json.Marshal escapes '<', so the text cannot close the script.
func renderView(w io.Writer, pv *preview.Renderer, o style.Options) error {
	if err := pv.WriteHTML(w); err != nil {
		return err
	}
	state, err := json.Marshal(StateOf(o))
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, `<script type="application/json" id="`+StateElementID+`">`); err != nil {
		return err
	}
	if _, err := w.Write(state); err != nil {
		return err
	}
	_, err = io.WriteString(w, `</script>`)
	return err
}
