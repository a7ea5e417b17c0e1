package srt

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/pipeline"
)

// ErrNoKey is returned for a stream ID without an upload key.
var ErrNoKey = errors.New("srt: stream id has no upload key")

// parseStreamID splits a stream ID of the form "[/]key?query" into the
// upload key and its encode options.
func parseStreamID(streamID string, defaultFilter frames.Filter) (string, pipeline.Options, error) {
	key, rawQuery, _ := strings.Cut(streamID, "?")
	key = strings.Trim(key, "/")
	if key == "" {
		return "", pipeline.Options{}, ErrNoKey
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", pipeline.Options{}, fmt.Errorf("srt: stream id query: %w", err)
	}
	opts, err := pipeline.ParseQuery(q, defaultFilter)
	if err != nil {
		return "", pipeline.Options{}, err
	}
	return key, opts, nil
}
