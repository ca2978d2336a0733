/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ZoneStatus is the read-only view of one zone's state exposed by the admin
// API, the supplemental "status surface" SPEC_FULL.md adds over the
// original's log-and-state-file-only observability.
type ZoneStatus struct {
	Apex          string `json:"apex"`
	State         string `json:"state"`
	CurrentMaster string `json:"current_master"`
	SoaDiskSerial uint32 `json:"soa_disk_serial"`
	SoaDiskAge    string `json:"soa_disk_age"`
	Error         bool   `json:"error"`
	ErrorMsg      string `json:"error_msg,omitempty"`
}

func zoneStatusOf(zd *Zone) ZoneStatus {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	st := ZoneStatus{
		Apex:          zd.ApexStr,
		State:         zd.State.String(),
		SoaDiskSerial: zd.SoaDisk.SOA.Serial,
		Error:         zd.Error,
		ErrorMsg:      zd.ErrorMsg,
	}
	if len(zd.Masters) > 0 {
		st.CurrentMaster = zd.Masters[zd.CurrentMaster].Host
	}
	if !zd.SoaDisk.Acquired.IsZero() {
		st.SoaDiskAge = humanDuration(uint32(time.Since(zd.SoaDisk.Acquired) / time.Second))
	}
	return st
}

// forceRefreshFunc is the hook the coordinator registers so the admin API
// can request an out-of-band refresh without reaching into coordinator
// internals directly; SetupAPIRouter takes it as a parameter rather than a
// global, keeping xfrd/apiserver.go testable in isolation.
type forceRefreshFunc func(apex string) error

// SetupAPIRouter builds the admin/status router, grounded on
// tdns/apirouters.go's SetupAPIRouter: one /api/v1 subrouter gated on an
// X-API-Key header, same endpoint-per-handler shape. Unlike the teacher's
// mostly-mutating API, every endpoint here except /zone/refresh is
// read-only, matching this core's narrower "status surface" role.
func SetupAPIRouter(conf *Config, reg *Registry, refresh forceRefreshFunc) (*mux.Router, error) {
	r := mux.NewRouter().StrictSlash(true)

	apikey := conf.Apiserver.ApiKey
	var sr *mux.Router
	if apikey != "" {
		sr = r.PathPrefix("/api/v1").Headers("X-API-Key", apikey).Subrouter()
	} else {
		sr = r.PathPrefix("/api/v1").Subrouter()
	}

	sr.HandleFunc("/ping", apiPing(conf)).Methods("GET")
	sr.HandleFunc("/zones", apiZoneList(reg)).Methods("GET")
	sr.HandleFunc("/zone/{name}", apiZoneGet(reg)).Methods("GET")
	sr.HandleFunc("/zone/{name}/refresh", apiZoneRefresh(reg, refresh)).Methods("POST")

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("xfrd: apiserver: error encoding response: %v", err)
	}
}

func apiPing(conf *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"app": conf.App.Name, "status": "ok"})
	}
}

func apiZoneList(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zones := reg.All()
		out := make([]ZoneStatus, 0, len(zones))
		for _, zd := range zones {
			out = append(out, zoneStatusOf(zd))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func apiZoneGet(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		zd, ok := reg.Get(name)
		if !ok {
			http.Error(w, fmt.Sprintf("zone %q not found", name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, zoneStatusOf(zd))
	}
}

func apiZoneRefresh(reg *Registry, refresh forceRefreshFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if _, ok := reg.Get(name); !ok {
			http.Error(w, fmt.Sprintf("zone %q not found", name), http.StatusNotFound)
			return
		}
		if refresh == nil {
			http.Error(w, "refresh not available", http.StatusServiceUnavailable)
			return
		}
		if err := refresh(name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "refresh scheduled"})
	}
}

// RunAPIServer starts one HTTP server per configured address, shutting all
// of them down when done is closed, the same lifecycle as
// tdns/apirouters.go's APIdispatcher (minus TLS: the admin surface is meant
// for same-host use, see DESIGN.md).
func RunAPIServer(conf *Config, router *mux.Router, done <-chan struct{}) error {
	addresses := conf.Apiserver.Addresses
	if len(addresses) == 0 {
		log.Println("xfrd: apiserver: no addresses configured, not starting")
		return nil
	}

	servers := make([]*http.Server, len(addresses))
	for i, addr := range addresses {
		srv := &http.Server{Addr: addr, Handler: router}
		servers[i] = srv
		go func(srv *http.Server) {
			log.Printf("xfrd: apiserver: listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("xfrd: apiserver: %v", err)
			}
		}(srv)
	}

	go func() {
		<-done
		log.Println("xfrd: apiserver: shutting down")
		for _, srv := range servers {
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Printf("xfrd: apiserver: shutdown error: %v", err)
			}
		}
	}()

	return nil
}
