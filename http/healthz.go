package http

import (
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"inviqa/mqtt-outbox-relay/log"
)

const (
	statusOk          = "ok"
	statusUnavailable = "unavailable"
)

type healthzHandler struct {
	checkAddr []string
	dbs       map[string]Pinger
}

type Pinger interface {
	Ping() error
}

type healthzResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthzHandler checks the ledger of every publisher and, for readiness
// probes, the TCP reachability of every broker address.
func NewHealthzHandler(checkAddr []string, dbs map[string]Pinger) http.Handler {
	return &healthzHandler{
		checkAddr: checkAddr,
		dbs:       dbs,
	}
}

func (h healthzHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	res := healthzResponse{Status: statusOk, Checks: map[string]string{}}
	h.checkDatabases(&res)
	if req.URL.Query().Get("readiness") == "1" {
		h.checkServices(&res)
	}

	w.Header().Set("Content-Type", "application/json")
	if res.Status == statusOk {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Logger.WithError(err).Debug("unable to write the healthz response")
	}
}

func (h healthzHandler) checkDatabases(res *healthzResponse) {
	names := make([]string, 0, len(h.dbs))
	for name := range h.dbs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.dbs[name].Ping(); err != nil {
			log.Logger.WithField("publisher", name).Debug("ledger is not available or there is a problem with connectivity")
			res.fail("ledger:" + name)
			continue
		}
		res.Checks["ledger:"+name] = statusOk
	}
}

func (h healthzHandler) checkServices(res *healthzResponse) {
	for _, host := range h.checkAddr {
		log.Logger.Debugf("checking connectivity to %s", host)
		conn, err := net.DialTimeout("tcp", host, 1*time.Second)
		if err != nil {
			log.Logger.Debugf("unable to connect to %s", host)
			res.fail("broker:" + host)
			continue
		}
		_ = conn.Close()
		res.Checks["broker:"+host] = statusOk
	}
}

func (r *healthzResponse) fail(check string) {
	r.Status = statusUnavailable
	r.Checks[check] = statusUnavailable
}
