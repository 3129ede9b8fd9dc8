package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/mtcforge/mtcagent/internal/asset"
	"github.com/mtcforge/mtcagent/internal/assemble"
	"github.com/mtcforge/mtcagent/internal/schema"
)

// defaultSampleCount matches the MTConnect default when count is absent.
const defaultSampleCount = 100

// maxInterval is the largest accepted interval in milliseconds (2^31-2).
const maxInterval = math.MaxInt32 - 1

// queryParams is the parsed query contract. Parameter validation
// accumulates every violation before responding (multi-error mode).
type queryParams struct {
	at       *uint64
	from     *uint64
	count    int
	interval *int64
	path     string
	errs     []*assemble.AgentError
}

func (q *queryParams) fail(code assemble.ErrorCode, format string, args ...any) {
	q.errs = append(q.errs, assemble.Errorf(code, format, args...))
}

// parseQuery validates the parameters a current/sample request accepts.
func parseQuery(r *http.Request, allowAt, allowFrom bool) *queryParams {
	q := &queryParams{count: defaultSampleCount}
	values := r.URL.Query()

	if raw := values.Get("at"); raw != "" {
		if !allowAt {
			q.fail(assemble.CodeInvalidRequest, "'at' is not valid for this request")
		} else if n, err := strconv.ParseUint(raw, 10, 64); err != nil {
			q.fail(assemble.CodeOutOfRange, "'at' must be a positive integer, got %q", raw)
		} else {
			q.at = &n
		}
	}
	if raw := values.Get("from"); raw != "" {
		if !allowFrom {
			q.fail(assemble.CodeInvalidRequest, "'from' is not valid for this request")
		} else if n, err := strconv.ParseUint(raw, 10, 64); err != nil {
			q.fail(assemble.CodeOutOfRange, "'from' must be a positive integer, got %q", raw)
		} else {
			q.from = &n
		}
	}
	if raw := values.Get("count"); raw != "" {
		if !allowFrom {
			q.fail(assemble.CodeInvalidRequest, "'count' is not valid for this request")
		} else if n, err := strconv.Atoi(raw); err != nil {
			q.fail(assemble.CodeOutOfRange, "'count' must be an integer, got %q", raw)
		} else {
			q.count = n
		}
	}
	if raw := values.Get("interval"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err != nil || n < 0 || n > maxInterval {
			q.fail(assemble.CodeOutOfRange,
				"'interval' must be between 0 and %d, got %q", maxInterval, raw)
		} else {
			q.interval = &n
		}
	}
	q.path = values.Get("path")

	// Mutually exclusive: a historical snapshot cannot stream.
	if q.at != nil && q.interval != nil {
		q.fail(assemble.CodeInvalidRequest, "'at' cannot be used with 'interval'")
	}
	return q
}

// compileFilter resolves the path parameter against the request scope.
// Path failures join the accumulated parameter errors.
func (s *Server) compileFilter(q *queryParams, devices []*schema.Device) *schema.PathFilter {
	if q.path == "" {
		return nil
	}
	uuids := make([]string, len(devices))
	for i, d := range devices {
		uuids[i] = d.UUID
	}
	filter, err := s.agent.Registry.CompilePath(q.path, uuids)
	if err != nil {
		q.errs = append(q.errs, assemble.ClassifyError(err))
		return nil
	}
	return filter
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request, names []string) {
	devices, devErr := s.resolveScope(names)
	if devErr != nil {
		s.writeErrors(w, devErr)
		return
	}
	s.writeDoc(w, s.agent.Assembler.Probe(devices))
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request, names []string) {
	devices, devErr := s.resolveScope(names)
	if devErr != nil {
		s.writeErrors(w, devErr)
		return
	}

	q := parseQuery(r, true, false)
	filter := s.compileFilter(q, devices)
	if len(q.errs) > 0 {
		s.writeErrors(w, q.errs...)
		return
	}

	if q.interval != nil && *q.interval > 0 {
		s.streamCurrent(w, r, devices, filter, *q.interval)
		return
	}

	if q.at != nil {
		snap, err := s.agent.Data.CurrentAt(*q.at)
		if err != nil {
			s.writeErrors(w, assemble.ClassifyError(err))
			return
		}
		s.writeDoc(w, s.agent.Assembler.CurrentDoc(snap, devices, filter))
		return
	}
	s.writeDoc(w, s.agent.Assembler.CurrentDoc(s.agent.Data.Current(), devices, filter))
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request, names []string) {
	devices, devErr := s.resolveScope(names)
	if devErr != nil {
		s.writeErrors(w, devErr)
		return
	}

	q := parseQuery(r, false, true)
	filter := s.compileFilter(q, devices)
	if len(q.errs) > 0 {
		s.writeErrors(w, q.errs...)
		return
	}

	first, _, _ := s.agent.Data.Range()
	from := first
	if q.from != nil {
		from = *q.from
	}

	if q.interval != nil && *q.interval > 0 {
		s.streamSample(w, r, devices, filter, from, q.count, *q.interval)
		return
	}

	win, err := s.sampleWindow(from, q.count)
	if err != nil {
		s.writeErrors(w, assemble.ClassifyError(err))
		return
	}
	s.writeDoc(w, s.agent.Assembler.SampleDoc(win, devices, filter))
}

// sampleWindow runs one sample query and packages the sequence
// bookkeeping its header reports.
func (s *Server) sampleWindow(from uint64, count int) (assemble.SampleWindow, error) {
	obs, next, err := s.agent.Data.Sample(from, count)
	if err != nil {
		return assemble.SampleWindow{}, err
	}
	first, last, _ := s.agent.Data.Range()
	return assemble.SampleWindow{
		Observations:  obs,
		FirstSequence: first,
		LastSequence:  last,
		NextSequence:  next,
	}, nil
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request, rest []string) {
	values := r.URL.Query()

	if len(rest) == 0 {
		count := 0
		if raw := values.Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				s.writeErrors(w, assemble.Errorf(assemble.CodeOutOfRange,
					"'count' must be greater than or equal to 1, got %q", raw))
				return
			}
			count = n
		}
		assets := s.agent.Assets.All(values.Get("type"), count)
		s.writeDoc(w, s.agent.Assembler.AssetDoc(assets, s.agent.Assets.Count()))
		return
	}

	if len(rest) > 1 {
		s.writeErrors(w, assemble.Errorf(assemble.CodeInvalidRequest,
			"unknown asset request: %s", r.URL.Path))
		return
	}

	ids := parseDeviceList(rest[0])
	assets := make([]*asset.Asset, 0, len(ids))
	for _, id := range ids {
		a, ok := s.agent.Assets.Get(id)
		if !ok {
			s.writeErrors(w, assemble.Errorf(assemble.CodeAssetNotFound,
				"could not find asset %s", id))
			return
		}
		assets = append(assets, a)
	}
	s.writeDoc(w, s.agent.Assembler.AssetDoc(assets, s.agent.Assets.Count()))
}
