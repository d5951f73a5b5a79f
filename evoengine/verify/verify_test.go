package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// =============================================================================
// FAKES AND FIXTURES
// =============================================================================

type fakeScenes struct {
	state *SceneState
	err   error
	reads int
}

func (f *fakeScenes) ReadScene(ctx context.Context, scene string) (*SceneState, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func buttonIntent() *proposal.VisualIntent {
	return &proposal.VisualIntent{
		Description:      "save button appears on the toolbar",
		Scene:            "main",
		ExpectedElements: []string{"button", "toolbar"},
	}
}

func fullScene() *SceneState {
	return &SceneState{Children: []SceneElement{
		{Type: "Button", ID: "save-btn", X: 100, Y: 200, Width: 80, Height: 40},
		{Type: "Toolbar", X: 0, Y: 0, Width: 800, Height: 48},
	}}
}

// =============================================================================
// VERIFIER TESTS
// =============================================================================

// Test that a fully matching scene passes on the first attempt.
func TestVerifyPasses(t *testing.T) {
	v := NewVerifier(&fakeScenes{state: fullScene()}, 0.9, 3)

	result, err := v.Verify(context.Background(), buttonIntent(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, result.Outcome)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.Missing)
}

// Test that a partial match below threshold suggests a retry.
func TestVerifySuggestsRetry(t *testing.T) {
	scene := &SceneState{Children: []SceneElement{{Type: "Button"}}}
	v := NewVerifier(&fakeScenes{state: scene}, 0.9, 3)

	result, err := v.Verify(context.Background(), buttonIntent(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, result.Outcome)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, []string{"toolbar"}, result.Missing)
}

// Test that the final failed attempt escalates to a human.
func TestVerifyEscalatesAtMaxAttempts(t *testing.T) {
	scene := &SceneState{Children: []SceneElement{{Type: "Button"}}}
	v := NewVerifier(&fakeScenes{state: scene}, 0.9, 3)

	result, err := v.Verify(context.Background(), buttonIntent(), 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalate, result.Outcome)
}

// Test that matching is case-insensitive over both type and id.
func TestVerifyMatchesTypeAndID(t *testing.T) {
	intent := &proposal.VisualIntent{
		Scene:            "main",
		ExpectedElements: []string{"BUTTON", "save-btn"},
	}
	scene := &SceneState{Children: []SceneElement{{Type: "Button", ID: "Save-Btn"}}}
	v := NewVerifier(&fakeScenes{state: scene}, 0.9, 3)

	result, err := v.Verify(context.Background(), intent, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, result.Outcome)
}

// Test that an intent without expected elements passes on a readable scene.
func TestVerifyNoExpectationsPasses(t *testing.T) {
	intent := &proposal.VisualIntent{Description: "scene still renders", Scene: "main"}
	v := NewVerifier(&fakeScenes{state: &SceneState{}}, 0.9, 3)

	result, err := v.Verify(context.Background(), intent, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, result.Outcome)
	assert.Equal(t, 1.0, result.Confidence)
}

// Test that an unreachable scene suggests a retry, not a silent pass.
func TestVerifySceneUnavailable(t *testing.T) {
	v := NewVerifier(&fakeScenes{err: errors.New("bridge refused connection")}, 0.9, 3)

	result, err := v.Verify(context.Background(), buttonIntent(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, result.Outcome)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Notes, "live state unavailable")
}

// Test that an unreachable scene escalates once attempts run out.
func TestVerifySceneUnavailableEscalates(t *testing.T) {
	v := NewVerifier(&fakeScenes{err: errors.New("bridge refused connection")}, 0.9, 2)

	result, err := v.Verify(context.Background(), buttonIntent(), 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalate, result.Outcome)
}

// Test that verifying without an intent is a caller bug.
func TestVerifyNilIntent(t *testing.T) {
	v := NewVerifier(&fakeScenes{state: fullScene()}, 0.9, 3)

	_, err := v.Verify(context.Background(), nil, 1)
	require.Error(t, err)
}

// Test that a cancelled context aborts the attempt.
func TestVerifyCancelled(t *testing.T) {
	v := NewVerifier(&fakeScenes{state: fullScene()}, 0.9, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Verify(ctx, buttonIntent(), 1)
	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// WEBSOCKET BRIDGE TESTS
// =============================================================================

func sceneServer(t *testing.T, handler func(conn *websocket.Conn, req sceneRequest)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req sceneRequest
		require.NoError(t, conn.ReadJSON(&req))
		handler(conn, req)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// Test a round trip through the websocket bridge.
func TestWSSceneReaderRoundTrip(t *testing.T) {
	srv := sceneServer(t, func(conn *websocket.Conn, req sceneRequest) {
		assert.Equal(t, "scene_state", req.Method)
		assert.Equal(t, "main", req.Params.Scene)
		require.NoError(t, conn.WriteJSON(sceneResponse{Result: fullScene(), ID: req.ID}))
	})
	defer srv.Close()

	state, err := NewWSSceneReader(wsURL(srv)).ReadScene(context.Background(), "main")
	require.NoError(t, err)
	require.Len(t, state.Children, 2)
	assert.Equal(t, "Button", state.Children[0].Type)
}

// Test that a bridge-side error surfaces as an error.
func TestWSSceneReaderBridgeError(t *testing.T) {
	srv := sceneServer(t, func(conn *websocket.Conn, req sceneRequest) {
		require.NoError(t, conn.WriteJSON(sceneResponse{Error: "unknown scene", ID: req.ID}))
	})
	defer srv.Close()

	_, err := NewWSSceneReader(wsURL(srv)).ReadScene(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scene")
}

// Test that an unreachable bridge is a dial error.
func TestWSSceneReaderUnreachable(t *testing.T) {
	_, err := NewWSSceneReader("ws://127.0.0.1:1/bridge").ReadScene(context.Background(), "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial scene bridge")
}
