package router

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

/*
tripWebsocket upgrades GET /ws/trips/:trip_id. the session receives every event of the trip
(smoothed_position, snap, route_options, navigation_state) as JSON text frames, and the client may
stream raw fixes back as {"lat":..,"lng":..,"observed_at_ms":..} text frames. unknown trips get a 404
before the upgrade; ending the trip sends trip_ended and closes the session.
*/
func (api *API) tripWebsocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	tripID := p.ByName("trip_id")
	if !api.hub.Admit(w, r, tripID) {
		return
	}

	conn, rw, hs, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		api.log.Info("upgrade error", zap.Error(err), zap.String("trip_id", tripID))
		return
	}
	// the server read/write timeouts must not apply to a long-lived session
	_ = conn.SetDeadline(time.Time{})

	api.log.Info("established websocket connection", zap.String("connection", nameConn(conn)),
		zap.String("trip_id", tripID), zap.String("protocol", hs.Protocol))

	var rwc io.ReadWriteCloser = conn
	if rw != nil && rw.Reader.Buffered() > 0 {
		rwc = bufferedConn{Reader: rw.Reader, Conn: conn}
	}

	session, err := api.hub.Register(rwc, tripID)
	if err != nil {
		// the trip ended between the check and the upgrade
		api.log.Info("websocket trip gone", zap.String("trip_id", tripID), zap.Error(err))
		_ = ws.WriteFrame(rwc, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "trip not found")))
		_ = rwc.Close()
		return
	}
	if err := session.Serve(r.Context()); err != nil {
		api.log.Debug("websocket session ended", zap.String("session_id", session.ID()), zap.Error(err))
	}
}

// bufferedConn reads through the bytes the upgrade already buffered.
type bufferedConn struct {
	io.Reader
	net.Conn
}

func (c bufferedConn) Read(p []byte) (int, error) {
	return c.Reader.Read(p)
}

func nameConn(conn net.Conn) string {
	return conn.LocalAddr().String() + " > " + conn.RemoteAddr().String()
}
