package ui

import (
	"io"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/franksops/assetdock/engine"
	"github.com/franksops/assetdock/manifest"
)

const labelWidth = 32

// BarObserver draws one mpb progress bar per in-flight asset.
type BarObserver struct {
	progress *mpb.Progress

	mu   sync.Mutex
	bars map[string]*assetBar
}

type assetBar struct {
	bar  *mpb.Bar
	last time.Time
}

var _ engine.Observer = (*BarObserver)(nil)

// NewBarObserver renders bars to w, usually os.Stderr.
func NewBarObserver(w io.Writer) *BarObserver {
	return &BarObserver{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
		bars:     make(map[string]*assetBar),
	}
}

func (b *BarObserver) AssetStarted(job engine.TransferJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bars[job.ID]; ok {
		return
	}

	bar := b.progress.New(0,
		mpb.BarStyle().Rbound("|"),
		mpb.PrependDecorators(
			decor.Name(Label(job.Descriptor.URL, job.Descriptor.FilenameOverride)+" ", decor.WCSyncSpaceR),
			decor.Counters(decor.SizeB1024(0), "% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
			decor.Name(" ] "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
		),
	)
	b.bars[job.ID] = &assetBar{bar: bar, last: time.Now()}
}

func (b *BarObserver) AssetProgress(job engine.TransferJob, written, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ab, ok := b.bars[job.ID]
	if !ok {
		return
	}
	if total > 0 {
		ab.bar.SetTotal(total, false)
	}
	now := time.Now()
	ab.bar.EwmaSetCurrent(written, now.Sub(ab.last))
	ab.last = now
}

func (b *BarObserver) AssetFinished(job engine.TransferJob, o engine.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ab, ok := b.bars[job.ID]
	if !ok {
		return
	}
	delete(b.bars, job.ID)

	if !o.Succeeded {
		ab.bar.Abort(false)
		return
	}
	// A negative total takes the current count, then completes the bar.
	ab.bar.SetTotal(-1, true)
}

// Wait blocks until every bar has completed or been aborted and flushes the
// final frame. Call it once after the batch returns.
func (b *BarObserver) Wait() {
	b.mu.Lock()
	for id, ab := range b.bars {
		ab.bar.Abort(false)
		delete(b.bars, id)
	}
	b.mu.Unlock()
	b.progress.Wait()
}

// Label is a short display name for an asset.
func Label(rawURL, override string) string {
	name := override
	if name == "" {
		name = manifest.RedactURL(rawURL)
		if u, err := url.Parse(rawURL); err == nil && u.Path != "" && u.Path != "/" {
			name = path.Base(u.Path)
		}
	}
	if len(name) > labelWidth {
		name = "..." + name[len(name)-labelWidth+3:]
	}
	return name
}
