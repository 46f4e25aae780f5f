package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/api/middleware"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/block"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/children"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/reference"
	"github.com/GriffinCanCode/blocktree/backend/internal/domain/registry"
	"github.com/GriffinCanCode/blocktree/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/blocktree/backend/internal/store/memory"
)

const testOrg = "org_http"

type server struct {
	t      *testing.T
	router *gin.Engine
	org    string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	reg := registry.New(st)
	refs := reference.New(st, reference.NewResolvers(reference.NewBlockResolver(st)))
	kids := children.New(st, reg)
	blocks := block.New(st, reg, kids, refs)

	h := NewHandlers(Deps{
		Store:    st,
		Registry: reg,
		Blocks:   blocks,
		Children: kids,
		Refs:     refs,
		Metrics:  monitoring.NewMetrics(),
	})
	router := gin.New()
	router.Use(middleware.Identity())
	h.Register(router)
	return &server{t: t, router: router, org: testOrg}
}

// as returns a view of s that sends requests as orgID
func (s *server) as(orgID string) *server {
	view := *s
	view.org = orgID
	return &view
}

// do sends a request as s.org and decodes the JSON response into out when set
func (s *server) do(method, path string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderOrganisationID, s.org)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

type idBody struct {
	ID string `json:"id"`
}

func (s *server) publish(key string, draft map[string]any) string {
	s.t.Helper()
	draft["key"] = key
	draft["name"] = key
	var bt idBody
	require.Equal(s.t, http.StatusCreated, s.do(http.MethodPost, "/block/schema", draft, &bt))
	return bt.ID
}

func (s *server) create(typeID string, extra map[string]any) string {
	s.t.Helper()
	body := map[string]any{"type_id": typeID}
	for k, v := range extra {
		body[k] = v
	}
	var b idBody
	require.Equal(s.t, http.StatusCreated, s.do(http.MethodPost, "/block", body, &b))
	return b.ID
}

func TestRequiresOrganisation(t *testing.T) {
	s := newServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/block", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBlockLifecycle(t *testing.T) {
	s := newServer(t)
	noteType := s.publish("note", map[string]any{
		"schema": map[string]any{
			"type":     "object",
			"required": []string{"title"},
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
			},
		},
	})

	var verr errorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/block", map[string]any{"type_id": noteType, "data": map[string]any{}}, &verr))
	assert.Equal(t, "validation", verr.Code)

	id := s.create(noteType, map[string]any{"data": map[string]any{"title": "hello"}})

	var tree struct {
		Root struct {
			Block struct {
				ID      string `json:"id"`
				Payload struct {
					Kind string         `json:"kind"`
					Data map[string]any `json:"data"`
				} `json:"payload"`
			} `json:"block"`
		} `json:"root"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/"+id+"?maxDepth=1", nil, &tree))
	assert.Equal(t, id, tree.Root.Block.ID)

	assert.Equal(t, http.StatusOK, s.do(http.MethodPut, "/block/"+id, map[string]any{"data": map[string]any{"title": "bye"}}, nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodPut, "/block/"+id+"/archive/true", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/block/"+id+"/archive/maybe", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/block/"+id+"?maxDepth=x", nil, nil))

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/block/"+id, nil, nil))
	var nf errorResponse
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/block/"+id, nil, &nf))
	assert.Equal(t, "not_found", nf.Code)
}

func TestChildrenRoutes(t *testing.T) {
	s := newServer(t)
	page := s.publish("page", map[string]any{"nesting": map[string]any{"allow_duplicates": true}})
	leaf := s.publish("leaf", map[string]any{})

	root := s.create(page, nil)
	mid := s.create(page, nil)
	a := s.create(leaf, nil)
	b := s.create(leaf, nil)

	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/block/child/"+root+"/children", map[string]any{"child_id": mid, "slot": "body"}, nil))
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/block/child/"+mid+"/children/bulk", map[string]any{"slot": "body", "child_ids": []string{a, b}}, nil))

	var cycle errorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/block/child/"+mid+"/children", map[string]any{"child_id": root, "slot": "body"}, &cycle))
	assert.Equal(t, "cycle", cycle.Code)

	var conflict errorResponse
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/block/child/"+root+"/children", map[string]any{"child_id": a, "slot": "body"}, &conflict))
	assert.Equal(t, "conflict", conflict.Code)

	var missing struct {
		Code    string `json:"code"`
		Details struct {
			Missing []string `json:"missing"`
		} `json:"details"`
	}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, "/block/child/"+mid+"/children/reorder", map[string]any{"slot": "body", "ordered_ids": []string{b}}, &missing))
	assert.Equal(t, []string{a}, missing.Details.Missing)

	var state children.SlotState
	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, "/block/child/"+mid+"/children/reorder", map[string]any{"slot": "body", "ordered_ids": []string{b, a}}, &state))
	require.Len(t, state.Edges, 2)
	assert.Equal(t, b, state.Edges[0].ChildID)

	assert.Equal(t, http.StatusOK, s.do(http.MethodPatch, "/block/child/"+mid+"/children/"+a+"/move", map[string]any{"from_slot": "body", "to_slot": "aside"}, nil))

	var listing struct {
		Slots []children.SlotState `json:"slots"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/child/"+mid+"/children", nil, &listing))
	require.Len(t, listing.Slots, 2)
	assert.Equal(t, "aside", listing.Slots[0].Slot)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/block/child/"+mid+"/children/"+a+"?slot=aside", nil, nil))
	var cleared struct {
		Detached []string `json:"detached"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/block/child/"+mid+"/children?slot=body", nil, &cleared))
	assert.Equal(t, []string{b}, cleared.Detached)
}

func TestReferenceRoutes(t *testing.T) {
	s := newServer(t)
	list := s.publish("contacts", map[string]any{"kind": "entity_reference"})
	id := s.create(list, nil)

	items := map[string]any{
		"allow_duplicates": true,
		"items": []map[string]any{
			{"entity_type": "CLIENT", "entity_id": "c1"},
			{"entity_type": "CLIENT", "entity_id": "c2"},
			{"entity_type": "CLIENT", "entity_id": "c1"},
		},
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/block/reference/"+id+"/refs/links", items, nil))

	var refs struct {
		Policy     string `json:"policy"`
		References []struct {
			EntityID string `json:"entity_id"`
			Path     string `json:"path"`
			Warning  string `json:"warning"`
		} `json:"references"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/reference/"+id+"/refs?policy=EAGER", nil, &refs))
	require.Len(t, refs.References, 3)
	assert.Equal(t, "EAGER", refs.Policy)
	assert.Equal(t, "UNSUPPORTED", refs.References[0].Warning, "no CLIENT resolver is registered")
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/block/reference/"+id+"/refs?policy=SOON", nil, nil))

	var amb struct {
		Code    string `json:"code"`
		Details struct {
			Paths []string `json:"paths"`
		} `json:"details"`
	}
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/block/reference/"+id+"/refs/CLIENT/c1", nil, &amb))
	assert.Equal(t, "ambiguous_deletion", amb.Code)
	assert.Equal(t, []string{"items[0]", "items[2]"}, amb.Details.Paths)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/block/reference/"+id+"/refs/CLIENT/c1?path=items[2]", nil, nil))

	var swept struct {
		Removed int `json:"removed"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/block/reference/entity/CLIENT/c2", nil, &swept))
	assert.Equal(t, 1, swept.Removed)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/block/reference/"+id+"/refs", nil, nil))
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/reference/"+id+"/refs", nil, &refs))
	assert.Empty(t, refs.References)
}

func TestRemoveStaleReferencesIsOrganisationScoped(t *testing.T) {
	owner := newServer(t).as("org_owner")
	intruder := owner.as("org_intruder")

	card := owner.publish("card", map[string]any{})
	link := owner.publish("card.link", map[string]any{"kind": "block_reference"})
	contacts := owner.publish("contacts", map[string]any{"kind": "entity_reference"})
	target := owner.create(card, nil)
	holder := owner.create(link, nil)
	list := owner.create(contacts, nil)

	require.Equal(t, http.StatusOK, owner.do(http.MethodPut, "/block/reference/"+holder+"/refs/block", map[string]any{
		"item": map[string]any{"entity_type": "BLOCK", "entity_id": target},
	}, nil))
	require.Equal(t, http.StatusOK, owner.do(http.MethodPut, "/block/reference/"+list+"/refs/links", map[string]any{
		"items": []map[string]any{{"entity_type": "CLIENT", "entity_id": "c9"}},
	}, nil))

	var failed errorResponse
	assert.Equal(t, http.StatusConflict, intruder.do(http.MethodDelete, "/block/reference/entity/BLOCK/"+target, nil, &failed))
	assert.Equal(t, "conflict", failed.Code)

	var swept struct {
		Removed int `json:"removed"`
	}
	require.Equal(t, http.StatusOK, intruder.do(http.MethodDelete, "/block/reference/entity/CLIENT/c9", nil, &swept))
	assert.Equal(t, 0, swept.Removed)

	var refs struct {
		References []struct {
			EntityID string `json:"entity_id"`
		} `json:"references"`
	}
	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/block/reference/"+holder+"/refs", nil, &refs))
	require.Len(t, refs.References, 1)
	assert.Equal(t, target, refs.References[0].EntityID)

	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/block/reference/"+list+"/refs", nil, &refs))
	require.Len(t, refs.References, 1)
	assert.Equal(t, "c9", refs.References[0].EntityID)

	require.Equal(t, http.StatusOK, owner.do(http.MethodDelete, "/block/reference/entity/CLIENT/c9", nil, &swept))
	assert.Equal(t, 1, swept.Removed)
}

func TestSchemaRoutes(t *testing.T) {
	s := newServer(t)
	id := s.publish("card", map[string]any{})

	var latest idBody
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/schema/key/card", nil, &latest))
	assert.Equal(t, id, latest.ID)

	var next struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/block/schema/"+id, map[string]any{"key": "card", "name": "Card v2"}, &next))
	assert.Equal(t, 2, next.Version)

	var forked struct {
		Key        string `json:"key"`
		ForkedFrom string `json:"forked_from"`
	}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/block/schema/fork", ForkRequest{SourceID: id, Key: "card-copy"}, &forked))
	assert.Equal(t, id, forked.ForkedFrom)

	var listed struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/schema/organisation/"+testOrg, nil, &listed))
	assert.Positive(t, listed.Count)

	var report struct {
		Valid  bool `json:"valid"`
		Issues []struct {
			Level string `json:"level"`
			Path  string `json:"path"`
		} `json:"issues"`
	}
	draft := map[string]any{
		"version": 1,
		"layout": map[string]any{
			"items": []map[string]any{{"id": "x", "breakpoints": map[string]any{"lg": map[string]int{"w": 1, "h": 1}}}},
		},
		"components": map[string]any{},
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/block/schema/lint", draft, &report))
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "layout.items[0].id", report.Issues[0].Path)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/block/schema/"+id+"/lint", nil, &report))
	assert.True(t, report.Valid)

	assert.Equal(t, http.StatusOK, s.do(http.MethodPut, "/block/schema/"+id+"/archive/true", nil, nil))
}
