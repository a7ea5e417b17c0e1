// Command srt-upload sends an image file to a pixseq SRT listener and,
// unless -nowait is set, prints the finished job from the HTTPS API.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	srt "github.com/zsiec/srtgo"
)

// chunkSize matches the listener's payload size.
const chunkSize = 1316

func main() {
	keyFlag := flag.String("key", "", "upload key (default: filename without extension)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	apiFlag := flag.String("api", "https://127.0.0.1:4444", "API base URL for fetching the job")
	formatFlag := flag.String("format", "", "gif, png or jpeg (default: from file extension)")
	bitsFlag := flag.Int("bits", 8, "bits per colour channel")
	widthFlag := flag.Int("width", 40, "target width")
	filterFlag := flag.String("filter", "", "resampling filter (default: server default)")
	noWait := flag.Bool("nowait", false, "do not wait for the job result")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: srt-upload [flags] <image>\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	key := *keyFlag
	if key == "" {
		base := filepath.Base(path)
		key = strings.TrimSuffix(base, filepath.Ext(base))
	}
	format := *formatFlag
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if format == "jpg" {
			format = "jpeg"
		}
	}

	q := url.Values{}
	q.Set("format", format)
	q.Set("bit_depth", fmt.Sprint(*bitsFlag))
	q.Set("max_width", fmt.Sprint(*widthFlag))
	if *filterFlag != "" {
		q.Set("filter", *filterFlag)
	}
	streamID := key + "?" + q.Encode()

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		os.Exit(1)
	}

	if err := upload(*addrFlag, streamID, data); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] upload failed: %v\n", key, err)
		os.Exit(1)
	}
	fmt.Printf("[%s] sent %d bytes\n", key, len(data))

	if *noWait {
		return
	}
	if err := printJob(*apiFlag, key); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] fetching job failed: %v\n", key, err)
		os.Exit(1)
	}
}

func upload(addr, streamID string, data []byte) error {
	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID

	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT connect: %w", err)
	}
	defer conn.Close()

	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		if _, err := conn.Write(data[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func printJob(api, key string) error {
	// The server uses a self-signed certificate.
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Second)
	defer cancel()

	target := fmt.Sprintf("%s/api/jobs/%s?wait=60s", strings.TrimSuffix(api, "/"), url.PathEscape(key))

	// The job appears once the listener has accepted the connection.
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		_, err = io.Copy(os.Stdout, resp.Body)
		resp.Body.Close()
		return err
	}
}
