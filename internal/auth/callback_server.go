package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
)

// CallbackServer is the process-local HTTP listener that receives the
// OAuth redirect from GitHub. Everything it logs goes to stderr; stdout
// belongs to the MCP transport.
type CallbackServer struct {
	server *http.Server
	auth   *Service
}

// NewCallbackServer binds to the port carried by redirectURI.
func NewCallbackServer(auth *Service, redirectURI string) (*CallbackServer, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		port = "80"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid redirect URI port %q", port)
	}

	cs := &CallbackServer{auth: auth}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", cs.handleHealth)
	mux.HandleFunc("/oauth/callback", cs.handleCallback)
	mux.HandleFunc("/", cs.handleNotFound)

	cs.server = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return cs, nil
}

// Start begins serving in the background.
func (cs *CallbackServer) Start() error {
	listener, err := net.Listen("tcp", cs.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cs.server.Addr, err)
	}
	logging.Logger.Info("OAuth callback server listening", "addr", cs.server.Addr)

	go func() {
		if err := cs.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Error("callback server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener, waiting briefly for in-flight requests.
func (cs *CallbackServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cs.server.Shutdown(ctx)
}

func (cs *CallbackServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (cs *CallbackServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errorParam := query.Get("error")
	errorDesc := query.Get("error_description")

	if errorParam != "" {
		msg := errorParam
		if errorDesc != "" {
			msg = fmt.Sprintf("%s: %s", errorParam, errorDesc)
		}
		logging.Logger.Warn("OAuth callback returned provider error", "error", errorParam)
		cs.writeErrorPage(w, http.StatusBadRequest, msg)
		return
	}
	if code == "" || state == "" {
		cs.writeErrorPage(w, http.StatusBadRequest, "Missing code or state parameter")
		return
	}

	result, err := cs.auth.HandleCallback(r.Context(), code, state)
	if err != nil {
		logging.Logger.Warn("OAuth callback failed", "error", err)
		status := http.StatusUnauthorized
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrExpiredState) {
			status = http.StatusBadRequest
		}
		cs.writeErrorPage(w, status, userFacingAuthError(err))
		return
	}

	cs.writeSuccessPage(w, result.User.GitHubUsername, result.User.ID.String())
}

// userFacingAuthError keeps provider internals out of the browser page.
func userFacingAuthError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "This sign-in link is no longer valid. Start again from your assistant."
	case errors.Is(err, ErrExpiredState):
		return "This sign-in link expired. Start again from your assistant."
	case errors.Is(err, ErrProviderAuthFailed):
		return "GitHub did not authorize the sign-in."
	default:
		return "Something went wrong completing the sign-in."
	}
}

func (cs *CallbackServer) writeSuccessPage(w http.ResponseWriter, username, userID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, successPage, html.EscapeString(username), html.EscapeString(userID))
}

func (cs *CallbackServer) writeErrorPage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, errorPage, html.EscapeString(msg))
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>GitFlow - Connected</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background-color: #f5f5f5;
        }
        .message {
            text-align: center;
            padding: 2rem;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 10px rgba(0,0,0,0.1);
        }
        .success {
            color: #22c55e;
            font-size: 3rem;
            margin-bottom: 1rem;
        }
        h1 {
            font-size: 1.5rem;
            margin-bottom: 0.5rem;
        }
        p {
            color: #666;
            margin: 0;
        }
        .detail {
            color: #999;
            font-size: 0.8rem;
            margin-top: 1rem;
            font-family: monospace;
        }
    </style>
</head>
<body>
    <div class="message">
        <div class="success">&#10003;</div>
        <h1>GitHub Connected</h1>
        <p>Signed in as <strong>%s</strong>. You can close this window and return to your assistant.</p>
        <div class="detail">user %s</div>
    </div>
</body>
</html>`

const errorPage = `<!DOCTYPE html>
<html>
<head>
    <title>GitFlow - Sign-in Failed</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background-color: #f5f5f5;
        }
        .message {
            text-align: center;
            padding: 2rem;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 10px rgba(0,0,0,0.1);
            max-width: 500px;
        }
        .error {
            color: #ef4444;
            font-size: 3rem;
            margin-bottom: 1rem;
        }
        h1 {
            font-size: 1.5rem;
            margin-bottom: 0.5rem;
        }
        p {
            color: #666;
            margin: 0 0 1rem 0;
        }
        .error-detail {
            background: #fee;
            color: #c33;
            padding: 0.5rem 1rem;
            border-radius: 4px;
            font-size: 0.9rem;
        }
    </style>
</head>
<body>
    <div class="message">
        <div class="error">&#10007;</div>
        <h1>Sign-in Failed</h1>
        <p>GitHub sign-in did not complete.</p>
        <div class="error-detail">%s</div>
    </div>
</body>
</html>`
