package wire

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	RPCPath       = "/rpc"
	HeartbeatPath = "/heartbeat"
)

type heartbeatResponse struct {
	Time      string
	Codecs    []string
	ReadLimit int64
}

// NewRouter routes the RPC endpoint to s and serves heartbeats alongside it.
func NewRouter(s *Server) *httprouter.Router {
	router := httprouter.New()
	router.GET(RPCPath, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.ServeHTTP(w, r)
	})
	router.GET(HeartbeatPath, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		b, err := json.Marshal(heartbeatResponse{
			Time:      time.Now().UTC().Format(time.RFC3339),
			Codecs:    codecNames(),
			ReadLimit: s.readLimit(),
		})
		if err != nil {
			s.log().Debugf("error marshaling heartbeat response: %s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		w.Write(b)
	})
	return router
}
