package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/speters/xbeed/xbee"
)

// pinDriver is implemented by *xbee.Device
type pinDriver interface {
	DigitalOutput(ctx context.Context, pin xbee.Pin, state xbee.PinState, opts ...xbee.ComposeOption) error
	PinConfig(ctx context.Context, pin xbee.Pin, config xbee.PinConfig, opts ...xbee.ComposeOption) error
}

type server struct {
	dev     pinDriver
	history *frameHistory
	timeout time.Duration
}

// target selects a unicast destination, broadcast is used when omitted
type target struct {
	Address        string `json:"address,omitempty"`         // 64 bit, hex
	NetworkAddress string `json:"network_address,omitempty"` // 16 bit, hex
	FrameID        byte   `json:"frame_id,omitempty"`
}

func (t target) options() ([]xbee.ComposeOption, error) {
	var opts []xbee.ComposeOption
	if t.Address != "" {
		a, err := strconv.ParseUint(t.Address, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("Invalid address %q: %v", t.Address, err)
		}
		opts = append(opts, xbee.WithAddress(a))
	}
	if t.NetworkAddress != "" {
		a, err := strconv.ParseUint(t.NetworkAddress, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("Invalid network address %q: %v", t.NetworkAddress, err)
		}
		opts = append(opts, xbee.WithNetworkAddress(uint16(a)))
	}
	if t.FrameID != 0 {
		opts = append(opts, xbee.WithFrameID(t.FrameID))
	}
	return opts, nil
}

type outputRequest struct {
	target
	On *bool `json:"on"`
}

type configRequest struct {
	target
	Config string `json:"config"`
}

type frameView struct {
	xbee.Frame
	Request *requestView `json:"request,omitempty"`
}

type requestView struct {
	FrameID        byte   `json:"frame_id"`
	Address        string `json:"address"`
	NetworkAddress string `json:"network_address"`
	Options        string `json:"options"`
	Command        string `json:"command"`
	Parameter      byte   `json:"parameter"`
}

func (v frameView) MarshalJSON() ([]byte, error) {
	f, err := v.Frame.MarshalJSON()
	if err != nil || v.Request == nil {
		return f, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(f, &m); err != nil {
		return nil, err
	}
	m["request"] = v.Request
	return json.Marshal(m)
}

func (s *server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/version", versionInfo).Methods("GET")
	router.HandleFunc("/frames", s.getFrames).Methods("GET")
	router.HandleFunc("/pin/{pin:[0-9]+}/output", s.setOutput).Methods("POST")
	router.HandleFunc("/pin/{pin:[0-9]+}/config", s.setConfig).Methods("POST")
	return router
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	v := struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: buildVersion, BuildDate: buildDate}
	j, _ := json.Marshal(v)
	w.Write(j)
}

func plainError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(code)
	w.Write([]byte(err.Error()))
}

func ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("\"OK\"\n"))
}

func pinParam(r *http.Request) (xbee.Pin, error) {
	n, err := strconv.Atoi(mux.Vars(r)["pin"])
	if err != nil || n < 0 || n > int(xbee.Pin7) {
		return 0, fmt.Errorf("%w: %v", xbee.ErrPin, mux.Vars(r)["pin"])
	}
	return xbee.Pin(n), nil
}

func (s *server) context(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

// deviceError maps contract violations to 400, everything else to 500
func deviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, xbee.ErrPin) || errors.Is(err, xbee.ErrPinConfig) || errors.Is(err, xbee.ErrCommandName) {
		plainError(w, http.StatusBadRequest, err)
		return
	}
	log.Error(err)
	plainError(w, http.StatusInternalServerError, err)
}

func (s *server) setOutput(w http.ResponseWriter, r *http.Request) {
	pin, err := pinParam(r)
	if err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}

	var req outputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}
	if req.On == nil {
		plainError(w, http.StatusBadRequest, fmt.Errorf("Missing \"on\" in request"))
		return
	}
	opts, err := req.options()
	if err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}

	state := xbee.PinOff
	if *req.On {
		state = xbee.PinOn
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.dev.DigitalOutput(ctx, pin, state, opts...); err != nil {
		deviceError(w, err)
		return
	}
	log.Infof("Pin %d switched %v", pin, state)
	ok(w)
}

func (s *server) setConfig(w http.ResponseWriter, r *http.Request) {
	pin, err := pinParam(r)
	if err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}
	config, err := xbee.ParsePinConfig(req.Config)
	if err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		plainError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.dev.PinConfig(ctx, pin, config, opts...); err != nil {
		deviceError(w, err)
		return
	}
	log.Infof("Pin %d configured as %v", pin, config)
	ok(w)
}

func (s *server) getFrames(w http.ResponseWriter, r *http.Request) {
	frames := s.history.List()
	views := make([]frameView, 0, len(frames))
	for _, f := range frames {
		v := frameView{Frame: f}
		if req, ok := f.RemoteATCommandRequest(); ok {
			v.Request = &requestView{
				FrameID:        req.FrameID,
				Address:        hex.EncodeToString(f.Payload[2:10]),
				NetworkAddress: hex.EncodeToString(f.Payload[10:12]),
				Options:        req.Options.String(),
				Command:        req.CommandName(),
				Parameter:      req.Parameter,
			}
		}
		views = append(views, v)
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(views)
}
