// Package iojson reads and writes JSON for commands that offer machine
// readable input and output.
package iojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Write encodes obj as indented JSON to w. When obj cannot be encoded a
// JSON error object is written to ew instead.
func Write(w, ew io.Writer, obj any) error {
	bits, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		_, werr := fmt.Fprintln(ew, encodeError("encode output", err))
		return errors.Join(err, werr)
	}

	_, err = fmt.Fprintln(w, string(bits))
	return err
}

func encodeError(msg string, cause error) string {
	msgBytes, _ := json.Marshal(msg)
	errBytes, _ := json.Marshal(cause.Error())
	return fmt.Sprintf(`{"message":%s,"data":{"json_error":%s}}`, msgBytes, errBytes)
}
