package tui

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/document"
)

func loadedPicker(t *testing.T, page document.Page) *GoalPicker {
	t.Helper()
	p := NewGoalPicker(&fakeGoals{page: page})
	msg, ok := p.Load(page.Page)().(goalsLoadedMsg)
	require.True(t, ok)
	p.SetResult(msg)
	return p
}

func TestGoalPicker_navigateAndSelect(t *testing.T) {
	p := loadedPicker(t, document.Page{
		Goals:      []document.Goal{{ID: "a"}, {ID: "b"}},
		Page:       1,
		TotalPages: 1,
	})

	p.HandleKey("down")
	p.HandleKey("down") // clamped
	id, done, _ := p.HandleKey("enter")

	assert.True(t, done)
	assert.Equal(t, "b", id)
}

func TestGoalPicker_pageBounds(t *testing.T) {
	p := loadedPicker(t, document.Page{Goals: []document.Goal{{ID: "a"}}, Page: 1, TotalPages: 2})

	_, _, cmd := p.HandleKey("left")
	assert.Nil(t, cmd)

	_, done, cmd := p.HandleKey("right")
	assert.False(t, done)
	assert.NotNil(t, cmd)
	assert.True(t, p.loading)
}

func TestGoalPicker_emptySelectDoesNothing(t *testing.T) {
	p := loadedPicker(t, document.Page{Page: 1})

	id, done, _ := p.HandleKey("enter")

	assert.False(t, done)
	assert.Empty(t, id)
}

func TestGoalPicker_loadError(t *testing.T) {
	p := NewGoalPicker(nil)
	p.SetResult(goalsLoadedMsg{err: errors.New("offline")})

	assert.Contains(t, p.body(), "offline")

	_, done, _ := p.HandleKey("esc")
	assert.True(t, done)
}
