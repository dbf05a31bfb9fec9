package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/utils/unittest"
)

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// legacyNode mimics a node answering in legacy JSON-RPC mode: no version
// field in replies, and errors reported with HTTP 500.
type legacyNode struct {
	mu       sync.Mutex
	calls    []request
	handlers map[string]func(params []json.RawMessage) (interface{}, *RPCError)
	auth     string
}

func (n *legacyNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls = append(n.calls, req)
	n.auth = r.Header.Get("Authorization")
	handler, ok := n.handlers[req.Method]
	n.mu.Unlock()

	reply := map[string]interface{}{"id": req.ID, "result": nil, "error": nil}
	status := http.StatusOK
	if !ok {
		reply["error"] = &RPCError{Code: -32601, Message: "Method not found"}
		status = http.StatusNotFound
	} else {
		result, rpcErr := handler(req.Params)
		if rpcErr != nil {
			reply["error"] = rpcErr
			status = http.StatusInternalServerError
		} else {
			reply["result"] = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply)
}

type ClientSuite struct {
	suite.Suite
	node   *legacyNode
	server *httptest.Server
	client *Client
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.node = &legacyNode{handlers: make(map[string]func([]json.RawMessage) (interface{}, *RPCError))}
	s.server = httptest.NewServer(s.node)

	host, portStr, err := net.SplitHostPort(s.server.Listener.Addr().String())
	s.Require().NoError(err)
	port, err := strconv.Atoi(portStr)
	s.Require().NoError(err)

	endpoint := module.RPCEndpoint{Host: host, Port: port, User: "quorumnet", Password: "secret"}
	s.client, err = Dial(context.Background(), unittest.Logger(), endpoint, 5*time.Second)
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownTest() {
	s.client.Close()
	s.server.Close()
}

func (s *ClientSuite) TestBasicAuthAndResult() {
	s.node.handlers["getblockcount"] = func([]json.RawMessage) (interface{}, *RPCError) {
		return 199, nil
	}

	count, err := s.client.GetBlockCount(context.Background())
	s.Require().NoError(err)
	s.Assert().Equal(uint64(199), count)
	s.Assert().Equal("Basic cXVvcnVtbmV0OnNlY3JldA==", s.node.auth)
}

func (s *ClientSuite) TestWarmupErrorIsTranslated() {
	s.node.handlers["getblockcount"] = func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: ErrCodeInWarmup, Message: "Loading block index..."}
	}

	_, err := s.client.GetBlockCount(context.Background())
	s.Require().Error(err)
	s.Assert().True(IsWarmupError(err))

	rpcErr, ok := AsRPCError(err)
	s.Require().True(ok)
	s.Assert().Equal("getblockcount", rpcErr.Method)
	s.Assert().Equal("Loading block index...", rpcErr.Message)
}

func (s *ClientSuite) TestNullResult() {
	s.node.handlers["setmocktime"] = func(params []json.RawMessage) (interface{}, *RPCError) {
		return nil, nil
	}
	s.node.handlers["submitblock"] = func(params []json.RawMessage) (interface{}, *RPCError) {
		return nil, nil
	}

	s.Require().NoError(s.client.SetMockTime(context.Background(), 1600000000))
	result, err := s.client.SubmitBlock(context.Background(), "00")
	s.Require().NoError(err)
	s.Assert().Empty(result)

	s.Require().Len(s.node.calls, 2)
	s.Assert().Equal("setmocktime", s.node.calls[0].Method)
	s.Assert().JSONEq("1600000000", string(s.node.calls[0].Params[0]))
}

func (s *ClientSuite) TestGenerateReusesWalletAddress() {
	addresses := 0
	s.node.handlers["getnewaddress"] = func([]json.RawMessage) (interface{}, *RPCError) {
		addresses++
		return "yMiner", nil
	}
	s.node.handlers["generatetoaddress"] = func(params []json.RawMessage) (interface{}, *RPCError) {
		return []string{"aa", "bb"}, nil
	}

	for i := 0; i < 3; i++ {
		hashes, err := s.client.Generate(context.Background(), 2)
		s.Require().NoError(err)
		s.Assert().Equal([]string{"aa", "bb"}, hashes)
	}
	s.Assert().Equal(1, addresses)
}

func (s *ClientSuite) TestDKGStatus() {
	s.node.handlers["quorum"] = func(params []json.RawMessage) (interface{}, *RPCError) {
		return map[string]interface{}{
			"session": map[string]interface{}{
				"llmq_test": map[string]interface{}{"quorumHash": "ab", "phase": 2, "receivedContributions": 3},
			},
		}, nil
	}

	status, err := s.client.DKGStatus(context.Background())
	s.Require().NoError(err)
	session, ok := status.Session("llmq_test")
	s.Require().True(ok)
	s.Assert().Equal(dkg.PhaseContribute, session.Phase)
	s.Assert().Equal(3, session.ReceivedContributions)
	s.Assert().JSONEq(`"dkgstatus"`, string(s.node.calls[0].Params[0]))
}

func TestTransportErrorIsNotRPCError(t *testing.T) {
	// nothing listens on this port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	c, err := Dial(context.Background(), unittest.Logger(), module.RPCEndpoint{Host: "127.0.0.1", Port: port}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetBlockCount(context.Background())
	require.Error(t, err)
	_, ok := AsRPCError(err)
	assert.False(t, ok)
	assert.False(t, IsWarmupError(err))
}
