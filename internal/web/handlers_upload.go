package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/putr/internal/core"
)

// formOverhead is the multipart framing allowed on top of the file itself.
const formOverhead = 1 << 20

// ledgerForm is a multipart ledger submission.
type ledgerForm struct {
	filename string
	data     []byte
	exclude  []string
}

// readLedgerForm reads the "file" part and any "exclude" values. It writes
// the error response itself and returns false on failure.
func (s *Server) readLedgerForm(w http.ResponseWriter, r *http.Request) (ledgerForm, bool) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, core.NewError(core.KindFileValidation, core.SubFileTooLarge,
				map[string]any{"size": tooLarge.Limit, "max": maxSize}))
			return ledgerForm{}, false
		}
		badRequest(w, r, core.SubReadFailed, "invalid multipart form")
		return ledgerForm{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, core.SubReadFailed, "no file provided")
		return ledgerForm{}, false
	}
	defer file.Close()

	data, err := core.ReadLedger(file, maxSize)
	if err != nil {
		respondError(w, r, err)
		return ledgerForm{}, false
	}
	if int64(len(data)) > maxSize {
		respondError(w, r, core.NewError(core.KindFileValidation, core.SubFileTooLarge,
			map[string]any{"size": header.Size, "max": maxSize}))
		return ledgerForm{}, false
	}

	return ledgerForm{
		filename: header.Filename,
		data:     data,
		exclude:  splitList(r.MultipartForm.Value["exclude"]),
	}, true
}

// splitList flattens repeated and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// resultView is one player's net for display.
type resultView struct {
	Nickname string `json:"nickname"`
	Net      string `json:"net"`
}

func resultViews(results []core.PlayerGameResult) []resultView {
	out := make([]resultView, len(results))
	for i, pr := range results {
		out[i] = resultView{Nickname: pr.Nickname, Net: pr.NetDollars().StringFixed(2)}
	}
	return out
}

// uploadResponse is the body of a committed upload.
type uploadResponse struct {
	*core.UploadResult
	Results    []resultView `json:"results"`
	DurationMS int64        `json:"durationMs"`
}

// handleUpload commits one ledger.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	form, ok := s.readLedgerForm(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upload.Timeout)
	defer cancel()

	res, err := s.service.Upload(ctx, core.UploadRequest{
		Filename: form.filename,
		Data:     form.data,
		Exclude:  form.exclude,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, uploadResponse{
		UploadResult: res,
		Results:      resultViews(res.Results),
		DurationMS:   res.Duration.Milliseconds(),
	})
}

// reportResponse is the body of a parse-only request.
type reportResponse struct {
	*core.GameReport
	Results []resultView `json:"results"`
}

// handleResults parses a ledger and returns each player's net without
// touching any store.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	form, ok := s.readLedgerForm(w, r)
	if !ok {
		return
	}

	report, err := s.service.GameResults(form.filename, form.data, form.exclude)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, reportResponse{GameReport: report, Results: resultViews(report.Results)})
}
