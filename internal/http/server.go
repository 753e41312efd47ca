package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
	"github.com/gutmensch/bridgenat-controller/internal/supervisor"
)

// RuleLister exposes the currently applied redirect rules.
type RuleLister interface {
	Applied() []*api.RedirectRule
}

type HttpServer struct {
	port  int
	mux   *http.ServeMux
	sup   *supervisor.Supervisor
	rules RuleLister
}

func liveness(w http.ResponseWriter, req *http.Request) {
	_, _ = fmt.Fprintf(w, "pong\n")
}

func (s *HttpServer) listUnits(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.sup.States())
}

func (s *HttpServer) listRules(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.rules == nil {
		_, _ = fmt.Fprintf(w, "[]\n")
		return
	}
	_ = json.NewEncoder(w).Encode(s.rules.Applied())
}

func nodeAddress(w http.ResponseWriter, req *http.Request) {
	addr, err := common.GetPublicIPAddress(4)
	if err != nil || addr == nil {
		http.Error(w, "no public address detected", http.StatusServiceUnavailable)
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n", addr)
}

func NewHTTPServer(sup *supervisor.Supervisor, rules RuleLister) *HttpServer {
	server := &HttpServer{
		port:  common.HTTPPort,
		mux:   http.NewServeMux(),
		sup:   sup,
		rules: rules,
	}
	server.mux.HandleFunc("/healthz", liveness)
	server.mux.HandleFunc("/ping", liveness)
	server.mux.HandleFunc("/ready", liveness)
	server.mux.HandleFunc("/units/list", server.listUnits)
	server.mux.HandleFunc("/rules/list", server.listRules)
	server.mux.HandleFunc("/node/address", nodeAddress)
	return server
}

func (s *HttpServer) Run() {
	klog.Fatalln(http.ListenAndServe(fmt.Sprintf(":%d", s.port), s.mux))
}
