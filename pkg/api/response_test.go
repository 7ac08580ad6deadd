package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseWireFormat(t *testing.T) {
	raw := `{
		"responseCode": "ERROR_TRANSIENT",
		"serverInfo": {"clusterName": "west", "protocolVersion": 3},
		"details": [{"message": "message1"}, {"message": "message2"}],
		"result": {"jobs": []}
	}`
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, ResponseCodeErrorTransient, resp.ResponseCode)
	require.NotNil(t, resp.ServerInfo)
	assert.Equal(t, ProtocolVersion, resp.ServerInfo.ProtocolVersion)
	assert.Equal(t, "message1, message2", resp.Messages())

	out, err := json.Marshal(NewResponse(ResponseCodeOK))
	require.NoError(t, err)
	assert.JSONEq(t, `{"responseCode":"OK","serverInfo":{"protocolVersion":3}}`, string(out))
}

func TestResponseCodeRejectsUnknownName(t *testing.T) {
	var code ResponseCode
	assert.Error(t, code.UnmarshalText([]byte("MAYBE")))
	_, err := ResponseCode(42).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "ResponseCode(42)", ResponseCode(42).String())
}

func TestDecodeResult(t *testing.T) {
	resp := &Response{Result: json.RawMessage(`{"roles":["www-data"]}`)}
	var out struct {
		Roles []string `json:"roles"`
	}
	require.NoError(t, resp.DecodeResult(&out))
	assert.Equal(t, []string{"www-data"}, out.Roles)

	empty := &Response{}
	assert.NoError(t, empty.DecodeResult(&out))
	assert.Equal(t, "", empty.Messages())
}

func TestMethodTable(t *testing.T) {
	m, ok := LookupMethod(KillTasks)
	require.True(t, ok)
	assert.True(t, m.Session)
	assert.Equal(t, 2, m.Args)

	m, ok = LookupMethod(GetQuota)
	require.True(t, ok)
	assert.False(t, m.Session)

	m, ok = LookupMethod(PerformBackup)
	require.True(t, ok)
	assert.True(t, m.Admin)
	assert.Equal(t, 0, m.Args)

	_, ok = LookupMethod("launchMissiles")
	assert.False(t, ok)

	all := Methods()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
}
