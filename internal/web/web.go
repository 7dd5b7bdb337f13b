// Package web serves the screening form: a single page that collects the 24
// panel values, runs the formatter and shows the label with its probabilities.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cbc-screen/internal/cfg"
	"cbc-screen/internal/common"
	"cbc-screen/internal/metrics"
	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"
	"cbc-screen/internal/storage"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	formTemplate    = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/form.html"))
	historyTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/history.html"))
)

// History is the part of the screening store the form uses.
type History interface {
	ml.HistoryRecorder
	RecentScreenings(n int) ([]storage.Screening, error)
}

// Config wires the form to the rest of the service.
type Config struct {
	Profile      cfg.Profile
	Defaults     panel.Vector
	ModelVersion string
	History      History // nil disables history
	HistorySize  int
	Timeout      time.Duration
	FormErrors   metrics.MetricsCounter
	// OnHistoryError is called when a screening cannot be saved.
	OnHistoryError func(error)
}

// Server renders the screening form.
type Server struct {
	formatter *ml.Formatter
	config    Config
}

type fieldView struct {
	Name    string
	Label   string
	Value   string
	Invalid bool
}

type groupView struct {
	Title  string
	Fields []fieldView
}

type columnView struct {
	Groups []groupView
}

type probabilityRow struct {
	Label       string
	Probability string
	Percent     string
	Width       string
}

type resultView struct {
	Label string
	Rows  []probabilityRow
}

type historyRow struct {
	ID           string
	Time         string
	Label        string
	Confidence   string
	ModelVersion string
}

type pageData struct {
	Lang           string
	T              map[string]string
	Profile        cfg.Profile
	Columns        []columnView
	Sidebar        bool
	Error          string
	Warning        string
	Result         *resultView
	History        []historyRow
	HistoryEnabled bool
	ModelVersion   string
	Action         string
	Home           string
	HistoryLink    string
}

// formError names the first field that failed the presence check.
type formError struct {
	field   string
	key     string
	display string
}

func (e *formError) Error() string { return e.key + ": " + e.field }

// NewServer creates the form handlers.
func NewServer(formatter *ml.Formatter, config Config) *Server {
	if config.Defaults == nil {
		config.Defaults = panel.Defaults()
	}
	if config.HistorySize <= 0 {
		config.HistorySize = common.DefaultHistorySize
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Server{formatter: formatter, config: config}
}

// Register mounts the form routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/", s.handleForm).Methods(http.MethodGet)
	r.HandleFunc("/screen", s.handleScreen).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	loc := resolveLocale(r, s.config.Profile.Language)
	values := make(map[string]string, panel.Size)
	for i, name := range panel.Names {
		values[name] = formatValue(s.config.Defaults[i])
	}
	data := s.page(r, loc, values, "")
	s.render(w, formTemplate, http.StatusOK, data)
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	loc := resolveLocale(r, s.config.Profile.Language)

	if err := r.ParseForm(); err != nil {
		s.countFormError()
		data := s.page(r, loc, nil, "")
		data.Error = loc.Tf("failed", err.Error())
		s.render(w, formTemplate, http.StatusBadRequest, data)
		return
	}

	raw := make(map[string]string, panel.Size)
	for _, name := range panel.Names {
		raw[name] = strings.TrimSpace(r.PostForm.Get(name))
	}

	vec, err := parsePanel(raw)
	if err != nil {
		s.countFormError()
		var fe *formError
		if !errors.As(err, &fe) {
			fe = &formError{key: "failed", display: err.Error()}
		}
		data := s.page(r, loc, raw, fe.field)
		data.Error = loc.Tf(fe.key, fe.display)
		s.render(w, formTemplate, http.StatusBadRequest, data)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	res, err := s.formatter.Predict(ctx, vec)
	if err != nil {
		log.Error().Err(err).Str("kind", ml.ErrorKind(err)).Msg("form screening failed")
		data := s.page(r, loc, raw, "")
		data.Error = loc.Tf("failed", err.Error())
		s.render(w, formTemplate, ml.StatusFor(err), data)
		return
	}

	if s.config.History != nil {
		if _, err := s.config.History.RecordScreening(ctx, s.config.Profile.Name, vec, res, s.config.ModelVersion); err != nil {
			log.Warn().Err(err).Msg("failed to record screening")
			if s.config.OnHistoryError != nil {
				s.config.OnHistoryError(err)
			}
		}
	}

	data := s.page(r, loc, raw, "")
	data.Result = newResultView(res)
	if out := vec.OutOfRange(); len(out) > 0 {
		data.Warning = loc.Tf("out_of_range", strings.Join(out, ", "))
	}
	s.render(w, formTemplate, http.StatusOK, data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	loc := resolveLocale(r, s.config.Profile.Language)
	data := s.page(r, loc, nil, "")

	if s.config.History != nil {
		recs, err := s.config.History.RecentScreenings(s.config.HistorySize)
		if err != nil {
			log.Error().Err(err).Msg("failed to list screenings")
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		for _, rec := range recs {
			data.History = append(data.History, historyRow{
				ID:           rec.ID,
				Time:         rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
				Label:        rec.Label,
				Confidence:   loc.printer.Sprintf("%.2f%%", rec.Confidence()*100),
				ModelVersion: rec.ModelVersion,
			})
		}
	}

	s.render(w, historyTemplate, http.StatusOK, data)
}

// parsePanel applies the presence check: every field must be filled with a
// finite number. Plausibility is not checked here.
func parsePanel(raw map[string]string) (panel.Vector, error) {
	values := make(map[string]float64, panel.Size)
	for _, f := range panel.Features() {
		s := raw[f.Name]
		if s == "" {
			return nil, &formError{field: f.Name, key: "missing_value", display: f.Label()}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &formError{field: f.Name, key: "invalid_value", display: f.Label()}
		}
		values[f.Name] = v
	}
	return panel.FromValues(values)
}

func (s *Server) page(r *http.Request, loc locale, values map[string]string, invalid string) pageData {
	query := ""
	if lang := r.URL.Query().Get("lang"); lang != "" {
		query = "?" + url.Values{"lang": {lang}}.Encode()
	}

	cat := make(map[string]string, len(catalogs[common.LanguageEnglish]))
	for k := range catalogs[common.LanguageEnglish] {
		cat[k] = loc.T(k)
	}

	data := pageData{
		Lang:           loc.tag.String(),
		T:              cat,
		Profile:        s.config.Profile,
		Sidebar:        s.config.Profile.Layout == common.LayoutSidebar,
		HistoryEnabled: s.config.History != nil,
		ModelVersion:   s.config.ModelVersion,
		Action:         "/screen" + query,
		Home:           "/" + query,
		HistoryLink:    "/history" + query,
	}

	grouped := panel.Grouped()
	group := func(name string) groupView {
		g := groupView{Title: loc.T("group." + name)}
		for _, f := range grouped[name] {
			g.Fields = append(g.Fields, fieldView{
				Name:    f.Name,
				Label:   f.Label(),
				Value:   values[f.Name],
				Invalid: f.Name == invalid,
			})
		}
		return g
	}

	if data.Sidebar {
		var col columnView
		for _, names := range panel.Columns {
			for _, name := range names {
				col.Groups = append(col.Groups, group(name))
			}
		}
		data.Columns = []columnView{col}
	} else {
		for _, names := range panel.Columns {
			var col columnView
			for _, name := range names {
				col.Groups = append(col.Groups, group(name))
			}
			data.Columns = append(data.Columns, col)
		}
	}
	return data
}

func newResultView(res ml.Result) *resultView {
	v := &resultView{Label: res.Label}
	for _, p := range res.Probabilities {
		v.Rows = append(v.Rows, probabilityRow{
			Label:       p.Label,
			Probability: strconv.FormatFloat(p.Probability, 'f', 4, 64),
			Percent:     strconv.FormatFloat(p.Probability*100, 'f', 2, 64) + "%",
			Width:       strconv.FormatFloat(p.Probability*100, 'f', 2, 64),
		})
	}
	return v
}

func (s *Server) render(w http.ResponseWriter, t *template.Template, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		log.Error().Err(err).Msg("failed to render page")
	}
}

func (s *Server) countFormError() {
	if s.config.FormErrors != nil {
		s.config.FormErrors.Inc()
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
