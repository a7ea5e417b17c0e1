package sequence

import (
	"context"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pixseq/internal/timeline"
)

// SerializeMatrix writes m in the compact nested-list form. Blocks of rows
// are rendered concurrently and joined in index order.
func SerializeMatrix(ctx context.Context, m timeline.Matrix) (string, error) {
	shards := timeline.Shards(len(m), runtime.GOMAXPROCS(0))
	parts := make([]string, len(shards))

	g, ctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var b strings.Builder
			for p := sh[0]; p < sh[1]; p++ {
				if p > sh[0] {
					b.WriteByte(',')
				}
				writeRow(&b, m[p])
			}
			parts[i] = b.String()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	n := 2 + len(parts)
	for _, p := range parts {
		n += len(p)
	}
	var b strings.Builder
	b.Grow(n)
	b.WriteByte('[')
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p)
	}
	b.WriteByte(']')
	return b.String(), nil
}

func writeRow(b *strings.Builder, pt timeline.PixelTimeline) {
	var num [20]byte
	b.WriteByte('[')
	for i, e := range pt {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`["`)
		b.WriteString(string(e.Color))
		b.WriteString(`",`)
		b.Write(strconv.AppendInt(num[:0], int64(e.Duration), 10))
		b.WriteByte(']')
	}
	b.WriteByte(']')
}
