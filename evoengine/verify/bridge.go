package verify

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// WSSceneReader fetches scene state from the visual shell's websocket bridge.
// Each read is one dial, one request, one reply; the verifier retries at the
// phase level so the reader stays connectionless.
type WSSceneReader struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSSceneReader builds a reader against a ws:// or wss:// bridge URL.
func NewWSSceneReader(url string) *WSSceneReader {
	return &WSSceneReader{url: url, dialer: websocket.DefaultDialer}
}

type sceneRequest struct {
	Method string      `json:"method"`
	Params sceneParams `json:"params"`
	ID     int         `json:"id"`
}

type sceneParams struct {
	Scene string `json:"scene,omitempty"`
}

type sceneResponse struct {
	Result *SceneState `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	ID     int         `json:"id"`
}

func (r *WSSceneReader) ReadScene(ctx context.Context, scene string) (*SceneState, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial scene bridge: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(sceneRequest{Method: "scene_state", Params: sceneParams{Scene: scene}, ID: 1}); err != nil {
		return nil, fmt.Errorf("request scene state: %w", err)
	}

	var resp sceneResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read scene state: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("scene bridge: %s", resp.Error)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("scene bridge: empty result")
	}
	return resp.Result, nil
}
