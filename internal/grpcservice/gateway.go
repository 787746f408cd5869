package grpcservice

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// NewGatewayMux returns an HTTP/JSON mux that calls srv in-process.
//
//	GET    /v1/selections                 Query (limit, offset, text, kind, request_key)
//	POST   /v1/selections                 Add
//	DELETE /v1/selections                 RemoveAll
//	GET    /v1/selections/{id}            Get
//	DELETE /v1/selections/{id}            Remove
//	GET    /v1/selections/{id}/content    Retrieve
//	PUT    /v1/selections/{id}/pin        SetPinned(true)
//	DELETE /v1/selections/{id}/pin        SetPinned(false)
//	GET    /v1/selections/{id}/keywords   GetKeywords
//	PUT    /v1/selections/{id}/keywords   SetKeywords
//	POST   /v1/selections/{id}/restore    Restore
//	GET    /v1/status                     Status
//	PUT    /v1/monitoring                 SetMonitoring
func NewGatewayMux(srv HistoryServer) (*gwruntime.ServeMux, error) {
	mux := gwruntime.NewServeMux()
	g := &gateway{srv: srv, m: &gwruntime.JSONBuiltin{}}

	routes := []struct {
		method, path string
		h            gwruntime.HandlerFunc
	}{
		{http.MethodGet, "/v1/selections", g.query},
		{http.MethodPost, "/v1/selections", g.add},
		{http.MethodDelete, "/v1/selections", g.removeAll},
		{http.MethodGet, "/v1/selections/{id}", g.get},
		{http.MethodDelete, "/v1/selections/{id}", g.remove},
		{http.MethodGet, "/v1/selections/{id}/content", g.retrieve},
		{http.MethodPut, "/v1/selections/{id}/pin", g.pin(true)},
		{http.MethodDelete, "/v1/selections/{id}/pin", g.pin(false)},
		{http.MethodGet, "/v1/selections/{id}/keywords", g.getKeywords},
		{http.MethodPut, "/v1/selections/{id}/keywords", g.setKeywords},
		{http.MethodPost, "/v1/selections/{id}/restore", g.restore},
		{http.MethodGet, "/v1/status", g.status},
		{http.MethodPut, "/v1/monitoring", g.monitoring},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.path, err)
		}
	}
	return mux, nil
}

type gateway struct {
	srv HistoryServer
	m   gwruntime.Marshaler
}

// incoming copies the HTTP auth and source headers into gRPC metadata so the
// server sees the same context a gRPC client would produce.
func incoming(r *http.Request) context.Context {
	md := metadata.MD{}
	if v := r.Header.Get("Authorization"); v != "" {
		md.Set("authorization", v)
	}
	if v := r.Header.Get(SourceHeader); v != "" {
		md.Set(SourceHeader, v)
	} else {
		md.Set(SourceHeader, "http:"+r.RemoteAddr)
	}
	return metadata.NewIncomingContext(r.Context(), md)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *gateway) write(w http.ResponseWriter, v any, err error) {
	code := http.StatusOK
	if err != nil {
		st := status.Convert(err)
		code = gwruntime.HTTPStatusFromCode(st.Code())
		v = errorBody{Code: st.Code().String(), Message: st.Message()}
	}
	b, merr := g.m.Marshal(v)
	if merr != nil {
		http.Error(w, merr.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", g.m.ContentType(v))
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func (g *gateway) decode(r *http.Request, v any) error {
	if err := g.m.NewDecoder(r.Body).Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", key, err)
	}
	return n, nil
}

func (g *gateway) query(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		g.write(w, nil, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		g.write(w, nil, err)
		return
	}
	q := r.URL.Query()
	resp, err := g.srv.Query(incoming(r), &QueryRequest{
		Limit:      limit,
		Offset:     offset,
		Text:       q.Get("text"),
		Kind:       q.Get("kind"),
		RequestKey: q.Get("request_key"),
	})
	g.write(w, resp, err)
}

func (g *gateway) add(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req AddRequest
	if err := g.decode(r, &req); err != nil {
		g.write(w, nil, err)
		return
	}
	resp, err := g.srv.Add(incoming(r), &req)
	g.write(w, resp, err)
}

func (g *gateway) removeAll(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.RemoveAll(incoming(r), &Empty{})
	g.write(w, resp, err)
}

func (g *gateway) get(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.Get(incoming(r), &IDRequest{ID: p["id"]})
	g.write(w, resp, err)
}

func (g *gateway) remove(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.Remove(incoming(r), &IDRequest{ID: p["id"]})
	g.write(w, resp, err)
}

func (g *gateway) retrieve(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.Retrieve(incoming(r), &IDRequest{ID: p["id"]})
	g.write(w, resp, err)
}

func (g *gateway) pin(pinned bool) gwruntime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		resp, err := g.srv.SetPinned(incoming(r), &PinRequest{ID: p["id"], Pinned: pinned})
		g.write(w, resp, err)
	}
}

func (g *gateway) getKeywords(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.GetKeywords(incoming(r), &IDRequest{ID: p["id"]})
	g.write(w, resp, err)
}

func (g *gateway) setKeywords(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req KeywordsRequest
	if err := g.decode(r, &req); err != nil {
		g.write(w, nil, err)
		return
	}
	req.ID = p["id"]
	resp, err := g.srv.SetKeywords(incoming(r), &req)
	g.write(w, resp, err)
}

func (g *gateway) restore(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := g.srv.Restore(incoming(r), &IDRequest{ID: p["id"]})
	g.write(w, resp, err)
}

func (g *gateway) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.srv.Status(incoming(r), &Empty{})
	g.write(w, resp, err)
}

func (g *gateway) monitoring(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req MonitoringRequest
	if err := g.decode(r, &req); err != nil {
		g.write(w, nil, err)
		return
	}
	resp, err := g.srv.SetMonitoring(incoming(r), &req)
	g.write(w, resp, err)
}
