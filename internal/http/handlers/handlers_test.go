package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/rolegate/internal/repo"
	"github.com/tbourn/rolegate/internal/services"
)

const (
	gid = "100"
	mid = "200"
)

// ----- Fake onboarding service -----

type fakeOnboarding struct {
	pending []services.PendingMember
	err     error

	released []string // member|flow|restore
}

func (f *fakeOnboarding) Pending(context.Context, string) ([]services.PendingMember, error) {
	return f.pending, f.err
}

func (f *fakeOnboarding) Release(_ context.Context, _, member, flow string, restore bool) error {
	f.released = append(f.released, fmt.Sprintf("%s|%s|%t", member, flow, restore))
	return f.err
}

func newRouter(ob OnboardingService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(services.NewFlowService(repo.NewMemoryStore()), ob)
	r := gin.New()
	g := r.Group("/communities/:community")
	g.GET("/flows", h.ListFlows)
	g.POST("/flows", h.CreateFlow)
	g.GET("/flows/:name", h.GetFlow)
	g.PATCH("/flows/:name", h.UpdateFlow)
	g.DELETE("/flows/:name", h.DeleteFlow)
	g.GET("/onboarding", h.ListPending)
	g.POST("/onboarding/:member/release", h.ReleaseMember)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestFlowEndpoints_Lifecycle(t *testing.T) {
	r := newRouter(&fakeOnboarding{})
	base := "/communities/" + gid + "/flows"

	w := do(t, r, http.MethodPost, base, FlowResource{Name: "welcome", RoleID: "300", ChannelID: "400", Message: "Hi {user}"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != base+"/welcome" {
		t.Fatalf("Location = %q", loc)
	}
	do(t, r, http.MethodPost, base, FlowResource{Name: "rules", RoleID: "301", ChannelID: "401", Message: "Read"})

	list := decode[ListFlowsResponse](t, do(t, r, http.MethodGet, base, nil))
	if len(list.Flows) != 2 || list.Flows[0].Name != "welcome" || list.Flows[1].RoleID != "301" {
		t.Fatalf("list = %+v", list)
	}

	w = do(t, r, http.MethodPatch, base+"/welcome", map[string]string{"message": "Hello {user}"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
	if got := decode[FlowResource](t, w); got.Message != "Hello {user}" || got.RoleID != "300" {
		t.Fatalf("patched = %+v", got)
	}
	if got := decode[FlowResource](t, do(t, r, http.MethodGet, base+"/welcome", nil)); got.Message != "Hello {user}" {
		t.Fatalf("get after patch = %+v", got)
	}

	if w := do(t, r, http.MethodDelete, base+"/rules", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, base+"/rules", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", w.Code)
	}
}

func TestFlowEndpoints_Errors(t *testing.T) {
	r := newRouter(&fakeOnboarding{})
	base := "/communities/" + gid + "/flows"
	do(t, r, http.MethodPost, base, FlowResource{Name: "welcome", RoleID: "300", ChannelID: "400", Message: "m"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad community", http.MethodGet, "/communities/abc/flows", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"malformed json", http.MethodPost, base, "{", http.StatusBadRequest, ErrCodeBadRequest},
		{"duplicate name", http.MethodPost, base, FlowResource{Name: "Welcome", RoleID: "301", ChannelID: "400", Message: "m"}, http.StatusConflict, ErrCodeFlowExists},
		{"role in use", http.MethodPost, base, FlowResource{Name: "other", RoleID: "300", ChannelID: "400", Message: "m"}, http.StatusConflict, ErrCodeRoleInUse},
		{"invalid ids", http.MethodPost, base, FlowResource{Name: "x", RoleID: "r", ChannelID: "400", Message: "m"}, http.StatusBadRequest, ErrCodeInvalidFlow},
		{"patch missing", http.MethodPatch, base + "/nope", map[string]string{"message": "m"}, http.StatusNotFound, ErrCodeFlowNotFound},
		{"delete missing", http.MethodDelete, base + "/nope", nil, http.StatusNotFound, ErrCodeFlowNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if got := decode[ErrorResponse](t, w); got.Code != tc.code {
				t.Fatalf("code = %q; want %q", got.Code, tc.code)
			}
		})
	}
}

func TestListPending_Paginates(t *testing.T) {
	ob := &fakeOnboarding{}
	for i := 0; i < 5; i++ {
		ob.pending = append(ob.pending, services.PendingMember{MemberID: fmt.Sprint(200 + i), Flows: []string{"welcome"}})
	}
	r := newRouter(ob)

	got := decode[ListPendingResponse](t, do(t, r, http.MethodGet, "/communities/"+gid+"/onboarding?page=2&page_size=2", nil))
	if len(got.Members) != 2 || got.Members[0].MemberID != "202" {
		t.Fatalf("members = %+v", got.Members)
	}
	want := Pagination{Page: 2, PageSize: 2, Total: 5, TotalPages: 3, HasNext: true}
	if got.Pagination != want {
		t.Fatalf("pagination = %+v", got.Pagination)
	}

	past := decode[ListPendingResponse](t, do(t, r, http.MethodGet, "/communities/"+gid+"/onboarding?page=9&page_size=500", nil))
	if past.Members == nil || len(past.Members) != 0 || past.Pagination.PageSize != 100 {
		t.Fatalf("out of range page = %+v", past)
	}
}

func TestReleaseMember(t *testing.T) {
	ob := &fakeOnboarding{}
	r := newRouter(ob)
	base := "/communities/" + gid + "/onboarding/"

	if w := do(t, r, http.MethodPost, base+mid+"/release?flow=welcome&restore=yes", nil); w.Code != http.StatusNoContent {
		t.Fatalf("release: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodPost, base+mid+"/release", nil); w.Code != http.StatusNoContent {
		t.Fatalf("release all: %d", w.Code)
	}
	if len(ob.released) != 2 || ob.released[0] != mid+"|welcome|true" || ob.released[1] != mid+"||false" {
		t.Fatalf("released = %v", ob.released)
	}

	if w := do(t, r, http.MethodPost, base+"bob/release", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad member: %d", w.Code)
	}

	ob.err = services.ErrMemberNotOnboarding
	w := do(t, r, http.MethodPost, base+mid+"/release", nil)
	if w.Code != http.StatusNotFound || decode[ErrorResponse](t, w).Code != ErrCodeNotOnboarding {
		t.Fatalf("not onboarding: %d %s", w.Code, w.Body.String())
	}
}
