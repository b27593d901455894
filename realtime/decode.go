package realtime

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/adda/types"
)

// Decode converts the record of a change event into a typed row (f.e. *types.Participant). Field names follow the
// rows' json tags, timestamps are RFC 3339 strings.
func Decode(event *types.ChangeEvent, out interface{}) error {
	if event == nil {
		return fmt.Errorf("no event")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		TagName:    "json",
		Result:     out,
	})
	if err != nil {
		return err
	}
	err = decoder.Decode(event.Record)
	if err != nil {
		return fmt.Errorf("could not decode %s record %s: %w", event.Table, event.RecordId, err)
	}
	return nil
}
