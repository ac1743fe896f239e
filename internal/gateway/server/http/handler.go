package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/devgate/internal/gateway/core"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/pkg/log"
)

const maxJSONBody = 1 << 20

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, core.E(core.KindValidation, "decode request", id, err))
		return
	}

	resp, err := s.deps.Commands.Execute(r.Context(), req.toModel(id))
	writeJSON(w, core.HTTPStatus(err), newCommandResult(resp))
}

func (s *Server) handleBatchExecute(w http.ResponseWriter, r *http.Request) {
	var batch batchRequest
	if err := decodeJSON(r, &batch); err != nil {
		writeError(w, core.E(core.KindValidation, "decode batch", "", err))
		return
	}

	reqs := make([]model.CommandRequest, len(batch))
	for i, item := range batch {
		reqs[i] = item.toModel("")
	}

	resps, err := s.deps.Batch.Execute(r.Context(), reqs)
	if err != nil {
		writeError(w, err)
		return
	}

	// One result per item, in request order.
	out := make([]commandResult, len(resps))
	for i, resp := range resps {
		out[i] = newCommandResult(resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.deps.Devices.List()
	online := 0
	for i := range devices {
		if devices[i].Online() {
			online++
		}
	}
	writeJSON(w, http.StatusOK, deviceList{Devices: devices, Count: len(devices), Online: online})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dev, ok := s.deps.Devices.Get(id)
	if !ok {
		writeError(w, core.E(core.KindNotFound, "get device", id, nil))
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAudioAlert(w http.ResponseWriter, r *http.Request) {
	job, err := s.parseAlert(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Alerts.SendAudioAlert(r.Context(), job)
	writeAlert(w, res, err)
}

func (s *Server) handleOpusAlert(w http.ResponseWriter, r *http.Request) {
	job, err := s.parseAlert(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Alerts.SendPreEncodedAlert(r.Context(), job)
	writeAlert(w, res, err)
}

// parseAlert reads the multipart form shared by both alert endpoints.
func (s *Server) parseAlert(w http.ResponseWriter, r *http.Request) (model.AudioAlertJob, error) {
	const op = "parse alert form"
	job := model.AudioAlertJob{Params: model.DefaultAlertParams()}

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+maxJSONBody)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		return job, core.E(core.KindValidation, op, "", err)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return job, core.Errorf(core.KindValidation, op, "", "audio file is required: %v", err)
	}
	defer file.Close()

	job.Audio, err = io.ReadAll(io.LimitReader(file, s.deps.MaxUploadBytes+1))
	if err != nil {
		return job, core.E(core.KindValidation, op, "", err)
	}
	if int64(len(job.Audio)) > s.deps.MaxUploadBytes {
		return job, core.Errorf(core.KindValidation, op, "", "audio exceeds %d bytes", s.deps.MaxUploadBytes)
	}
	job.MIMEType = header.Header.Get("Content-Type")

	job.DeviceID = strings.TrimSpace(r.FormValue("deviceId"))
	p := &job.Params
	fields := []struct {
		name string
		dst  *int
	}{
		{"priority", &p.Priority},
		{"volume", &p.Volume},
		{"playCount", &p.PlayCount},
	}
	for _, f := range fields {
		if err := formInt(r, f.name, f.dst); err != nil {
			return job, core.E(core.KindValidation, op, job.DeviceID, err)
		}
	}
	flags := []struct {
		name string
		dst  *bool
	}{
		{"interruptCurrent", &p.InterruptCurrent},
		{"saveToFile", &p.SaveToFile},
		{"broadcast", &job.Broadcast},
	}
	for _, f := range flags {
		if err := formBool(r, f.name, f.dst); err != nil {
			return job, core.E(core.KindValidation, op, job.DeviceID, err)
		}
	}
	p.Filename = strings.TrimSpace(r.FormValue("filename"))
	return job, nil
}

func formInt(r *http.Request, name string, dst *int) error {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", name, v)
	}
	*dst = n
	return nil
}

func formBool(r *http.Request, name string, dst *bool) error {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", name, v)
	}
	*dst = b
	return nil
}

func writeAlert(w http.ResponseWriter, res *model.DispatchResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alertResult{Success: true, DispatchResult: res})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, core.HTTPStatus(err), errorBody{
		Error:     err.Error(),
		ErrorKind: string(core.KindOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				err := core.Errorf(core.KindInternal, r.Method+" "+r.URL.Path, "", "panic: %v", rv)
				log.Error(err, "Recovered from handler panic")
				writeError(w, err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
