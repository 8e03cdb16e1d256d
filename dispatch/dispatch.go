// Package dispatch translates the event lists of a document with a
// bounded pool of workers. A unit of work is one map event, one common
// event, one troop or one scenario entry; a worker owns its unit from
// start to finish.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minios-linux/mvtl/rpgdata"
	"github.com/minios-linux/mvtl/session"
	"github.com/minios-linux/mvtl/translate"
	"github.com/minios-linux/mvtl/walker"
)

// Options controls the worker pool.
type Options struct {
	// Threads is the number of units translated at once. Default: 4.
	Threads int
	// OnProgress is called after each finished unit.
	OnProgress func(file string, done, total int)
	// Logger receives per-unit records. Nil discards them.
	Logger *slog.Logger
}

func (o *Options) effectiveThreads() int {
	if o.Threads > 0 {
		return o.Threads
	}
	return 4
}

// Distributor is safe for concurrent use, but documents are meant to be
// processed one at a time.
type Distributor struct {
	tr     *translate.Translator
	walker *walker.Walker
	sess   *session.Session
	opts   Options
	log    *slog.Logger
}

// New returns a Distributor.
func New(tr *translate.Translator, w *walker.Walker, sess *session.Session, opts Options) *Distributor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Distributor{tr: tr, walker: w, sess: sess, opts: opts, log: logger}
}

// unit is an independent piece of a document.
type unit struct {
	name string
	run  func(ctx context.Context) (translate.Usage, error)
}

// Process translates doc in place. The usage of every finished unit is
// added to the session. The first failing unit cancels the others and its
// error is returned.
func (d *Distributor) Process(ctx context.Context, doc *rpgdata.Document) (translate.Usage, error) {
	if !doc.Kind.HasEvents() {
		return translate.Usage{}, fmt.Errorf("%s: %w", doc.Name, rpgdata.ErrUnsupported)
	}
	units := d.units(doc)

	var (
		mu    sync.Mutex
		total translate.Usage
		done  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.effectiveThreads())
	for _, u := range units {
		g.Go(func() error {
			start := time.Now()
			usage, err := u.run(gctx)
			d.sess.AddUsage(usage)

			mu.Lock()
			total = total.Add(usage)
			done++
			n := done
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("%s %s: %w", doc.Name, u.name, err)
			}
			d.log.Debug("unit done",
				slog.String("file", doc.Name),
				slog.String("unit", u.name),
				slog.Int("input", usage.Input),
				slog.Int("output", usage.Output),
				slog.Duration("elapsed", time.Since(start)))
			if d.opts.OnProgress != nil {
				d.opts.OnProgress(doc.Name, n, len(units))
			}
			return nil
		})
	}
	err := g.Wait()
	return total, err
}

// ---------------------------------------------------------------------------
// Units
// ---------------------------------------------------------------------------

var namePop = regexp.MustCompile(`<namePop:\s?(.+?)(?:\s[^>]*)?>`)

func (d *Distributor) units(doc *rpgdata.Document) []unit {
	var units []unit
	switch doc.Kind {
	case rpgdata.KindMap:
		m := doc.Map
		if d.tr.HasSource(m.DisplayName) {
			units = append(units, unit{name: "displayName", run: func(ctx context.Context) (translate.Usage, error) {
				t, u, err := d.tr.TranslateText(ctx, m.DisplayName, "Reply with only the "+d.tr.Language()+" translation of the location name.")
				if err == nil {
					m.DisplayName = t
				}
				return u, err
			}})
		}
		for _, e := range m.Events {
			if e == nil {
				continue
			}
			units = append(units, unit{name: "event " + strconv.Itoa(e.ID), run: func(ctx context.Context) (translate.Usage, error) {
				return d.event(ctx, doc.Name, e)
			}})
		}
	case rpgdata.KindCommonEvents:
		for _, c := range doc.CommonEvents {
			if c == nil {
				continue
			}
			units = append(units, unit{name: "common event " + strconv.Itoa(c.ID), run: func(ctx context.Context) (translate.Usage, error) {
				list, u, err := d.walker.Walk(ctx, doc.Name, c.List)
				c.List = list
				return u, err
			}})
		}
	case rpgdata.KindTroops:
		for _, t := range doc.Troops {
			if t == nil {
				continue
			}
			units = append(units, unit{name: "troop " + strconv.Itoa(t.ID), run: func(ctx context.Context) (translate.Usage, error) {
				return d.pages(ctx, doc.Name, t.Pages)
			}})
		}
	case rpgdata.KindScenario:
		var mu sync.Mutex
		s := doc.Scenario
		for _, k := range s.Keys() {
			list := s.Lists[k]
			units = append(units, unit{name: "scenario " + k, run: func(ctx context.Context) (translate.Usage, error) {
				out, u, err := d.walker.Walk(ctx, doc.Name, list)
				mu.Lock()
				s.Lists[k] = out
				mu.Unlock()
				return u, err
			}})
		}
	}
	return units
}

func (d *Distributor) event(ctx context.Context, file string, e *rpgdata.Event) (translate.Usage, error) {
	usage, err := d.pages(ctx, file, e.Pages)
	if err != nil {
		return usage, err
	}
	if m := namePop.FindStringSubmatch(e.Note); m != nil && d.tr.HasSource(m[1]) {
		t, u, err := d.walker.Speaker(ctx, m[1])
		usage = usage.Add(u)
		if err != nil {
			return usage, err
		}
		e.Note = strings.Replace(e.Note, m[0], strings.Replace(m[0], m[1], t, 1), 1)
	}
	return usage, nil
}

func (d *Distributor) pages(ctx context.Context, file string, pages []*rpgdata.Page) (translate.Usage, error) {
	var usage translate.Usage
	for _, p := range pages {
		if p == nil {
			continue
		}
		list, u, err := d.walker.Walk(ctx, file, p.List)
		usage = usage.Add(u)
		p.List = list
		if err != nil {
			return usage, err
		}
	}
	return usage, nil
}
