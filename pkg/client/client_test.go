package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, "test-token"), ts
}

func TestListMachinesDecodesResponse(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "/machines", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]*types.Machine{{SystemID: "m1"}, {SystemID: "m2"}})
	})

	machines, err := c.ListMachines()
	require.NoError(t, err)
	require.Len(t, machines, 2)
	require.Equal(t, "m1", machines[0].SystemID)
}

func TestCreateDeploymentPostsExpectedBody(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "machine-1", body["machine_id"])
		require.Equal(t, "image-1", body["image_id"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&types.DeploymentJob{JobID: "job-1", MachineID: "machine-1"})
	})

	job, err := c.CreateDeployment("machine-1", "image-1", []string{"base"})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.JobID)
}

func TestNonSuccessStatusReturnsAPIError(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "not_found",
			"message": "machine not found",
		})
	})

	_, err := c.GetMachine("missing")
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "not_found", apiErr.Code)
}

func TestDeleteMachineHandlesNoContent(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteMachine("m1"))
}

func TestRenderEggsReturnsCloudInitString(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"cloud_init": "#cloud-config\n"})
	})

	out, err := c.RenderEggs("machine-1", "", []string{"base"})
	require.NoError(t, err)
	require.Equal(t, "#cloud-config\n", out)
}
