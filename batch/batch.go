// Package batch discovers COLMAP reconstruction roots under a dataset
// tree and drives their conversion into the bag/sequence training
// layout, isolating per-item failures behind a durable run log.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/timo-kang/densnet/colmap"
	"github.com/timo-kang/densnet/rapexport"
	"github.com/timo-kang/densnet/trainfmt"
)

// Capacity is the number of sequences per bag.
const Capacity = 10

// LogFileName is the run log written at the output root.
const LogFileName = "conversion.log"

// ErrNoReconstructions means discovery found no sparse/0 directories.
var ErrNoReconstructions = errors.New("no sparse/0 reconstructions found")

// Slot is the (bag, sequence) destination of one discovered
// reconstruction.
type Slot struct {
	Bag      int
	Sequence int
}

// SlotFor returns the slot of the i-th discovered reconstruction.
// Sequence indices cycle through [0, Capacity) and the bag index
// increments on every wrap. Failed items keep their slot; numbering
// never reuses or gap-fills.
func SlotFor(i int) Slot {
	return Slot{Bag: i / Capacity, Sequence: i % Capacity}
}

// Dir returns the slot's directory path relative to the output root.
func (s Slot) Dir() string {
	return filepath.Join(fmt.Sprintf("bag_%d", s.Bag), fmt.Sprintf("sequence_%d", s.Sequence))
}

func (s Slot) String() string {
	return fmt.Sprintf("bag_%d/sequence_%d", s.Bag, s.Sequence)
}

// Item is one discovered reconstruction with its pre-assigned slot.
type Item struct {
	// SparseDir is the sparse/0 directory holding the text exports.
	SparseDir string
	// Rel is SparseDir relative to the dataset root, used in log lines.
	Rel  string
	Slot Slot
}

// Discover walks root for sparse/0 directories and assigns slots in
// sorted path order. Sorting makes slot numbering independent of
// platform walk order.
func Discover(root string) ([]Item, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() && d.Name() == "0" && filepath.Base(filepath.Dir(path)) == "sparse" {
			dirs = append(dirs, path)
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s", root)
	}
	sort.Strings(dirs)

	items := make([]Item, len(dirs))
	for i, dir := range dirs {
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			rel = dir
		}
		items[i] = Item{SparseDir: dir, Rel: rel, Slot: SlotFor(i)}
	}
	return items, nil
}

// Options configures a batch run.
type Options struct {
	// ImageRoot, when set, mirrors each reconstruction's relative path
	// under a separate image tree. When empty the image source is the
	// grandparent of its sparse/0 directory.
	ImageRoot string
	// Workers bounds concurrent conversions; values below 1 mean 1.
	Workers int
	// RAP additionally writes a trajectory recording per sequence.
	RAP      bool
	Sequence trainfmt.Options
	Logger   golog.Logger
}

// Result is the outcome of converting one discovered item.
type Result struct {
	Item   Item
	Images int
	Points int
	Err    error
}

// Summary aggregates a whole run.
type Summary struct {
	Succeeded int
	Failed    int
	Results   []Result
}

// Run converts every discovered reconstruction under datasetRoot into
// outputRoot. A failing item is logged and consumes its slot; it never
// aborts the batch. The returned error covers run-level problems only
// (nothing discovered, log unwritable).
func Run(datasetRoot, outputRoot string, opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = golog.Global()
	}
	if opts.Sequence.Logger == nil {
		opts.Sequence.Logger = logger
	}

	items, err := Discover(datasetRoot)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(ErrNoReconstructions, "under %s", datasetRoot)
	}
	logger.Infof("found %d reconstructions under %s", len(items), datasetRoot)

	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output root")
	}
	runLog, err := newRunLog(filepath.Join(outputRoot, LogFileName),
		fmt.Sprintf("Dataset root: %s\nOutput root: %s\n\n", datasetRoot, outputRoot))
	if err != nil {
		return nil, err
	}
	defer runLog.Close()

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(items))
	var group errgroup.Group
	group.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			res := convertItem(datasetRoot, outputRoot, item, opts, logger)
			results[i] = res
			return runLog.Record(i, logLine(res))
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{Results: results}
	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	logger.Infof("conversion complete: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	return summary, nil
}

func convertItem(datasetRoot, outputRoot string, item Item, opts Options, logger golog.Logger) Result {
	res := Result{Item: item}

	// The reconstruction's own tree is the grandparent of sparse/0;
	// with a separate image tree its relative path is mirrored there.
	reconRoot := filepath.Dir(filepath.Dir(item.SparseDir))
	imageRoot := reconRoot
	if opts.ImageRoot != "" {
		rel, err := filepath.Rel(datasetRoot, reconRoot)
		if err != nil {
			res.Err = errors.Wrap(err, "map image root")
			return res
		}
		imageRoot = filepath.Join(opts.ImageRoot, rel)
	}

	recon, err := colmap.ReadReconstruction(item.SparseDir)
	if err != nil {
		res.Err = err
		return res
	}

	outDir := filepath.Join(outputRoot, item.Slot.Dir())
	seqRes, err := trainfmt.ConvertSequence(recon, imageRoot, outDir, opts.Sequence)
	if err != nil {
		res.Err = err
		return res
	}
	res.Images = seqRes.Images
	res.Points = seqRes.Points

	if opts.RAP {
		if err := rapexport.WriteFile(filepath.Join(outDir, "trajectory.rap"), item.Rel, recon); err != nil {
			res.Err = err
			return res
		}
	}

	logger.Debugw("converted reconstruction",
		"source", item.Rel, "slot", item.Slot.String(),
		"images", res.Images, "points", res.Points, "skipped", seqRes.Skipped)
	return res
}

func logLine(res Result) string {
	if res.Err != nil {
		return fmt.Sprintf("✗ %s: %v\n", res.Item.Rel, res.Err)
	}
	return fmt.Sprintf("✓ %s -> %s (%d images, %d points)\n",
		res.Item.Rel, res.Item.Slot, res.Images, res.Points)
}
