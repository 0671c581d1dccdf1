// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideal-world/dew-baas/services/action/bundle"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	j, err := NewJournal(db, slog.Default())
	require.NoError(t, err)
	return j
}

func TestNewJournal_Validation(t *testing.T) {
	_, err := NewJournal(nil, slog.Default())
	assert.Error(t, err)
}

func TestJournal_SaveAndGet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	rec := &Record{
		BuildID:        "b1",
		BaseDir:        "/srv/app/dist",
		Target:         TargetProd,
		Status:         StatusOK,
		StartedAtMilli: 1000,
		Modules:        1,
		Stubs:          2,
	}
	detail := &Detail{
		Files: []FileResult{{RelPath: "todo.js", Module: "todo", Stubs: []string{"todo.fetchItems", "todo.addItem"}}},
		Bundle: &bundle.Summary{TotalBytes: 42},
	}
	require.NoError(t, j.Save(ctx, rec, detail))
	assert.Equal(t, BaseHash("/srv/app/dist"), rec.BaseHash)
	assert.NotEmpty(t, rec.ContentHash)

	gotRec, gotDetail, err := j.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, rec, gotRec)
	assert.Equal(t, detail, gotDetail)

	_, _, err = j.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrBuildNotFound)
}

func TestJournal_LatestAndList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, _, err := j.Latest(ctx, "/a")
	assert.ErrorIs(t, err, ErrBuildNotFound)

	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, j.Save(ctx, &Record{BuildID: id, BaseDir: "/a", StartedAtMilli: int64(i + 1)}, nil))
	}
	require.NoError(t, j.Save(ctx, &Record{BuildID: "b1", BaseDir: "/b", StartedAtMilli: 10}, nil))

	latest, _, err := j.Latest(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, "a3", latest.BuildID)

	recs, err := j.List(ctx, "/a", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a3", recs[0].BuildID)
	assert.Equal(t, "a2", recs[1].BuildID)

	all, err := j.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "b1", all[0].BuildID)
}

func TestOrchestrator_JournalsBuilds(t *testing.T) {
	j := newTestJournal(t)
	dir := prodTree(t)
	o := newTestOrchestrator(&fakeBundler{}, &fakeMinifier{}, &fakeShipper{}, WithJournal(j))
	ctx := context.Background()

	result, err := o.Build(ctx, Request{BaseDir: dir, Env: "test", Prod: true, SDK: testSDK})
	require.NoError(t, err)

	rec, detail, err := j.Latest(ctx, result.BaseDir)
	require.NoError(t, err)
	assert.Equal(t, result.BuildID, rec.BuildID)
	assert.Equal(t, StatusOK, rec.Status)
	assert.Equal(t, "test", rec.Env)
	assert.Equal(t, 3, rec.Stubs)
	assert.Equal(t, result.Artifact.SHA256, rec.BundleSHA256)
	assert.Len(t, detail.Files, 2)

	failing := newTestOrchestrator(&fakeBundler{}, &fakeMinifier{}, &fakeShipper{err: assert.AnError}, WithJournal(j))
	_, err = failing.Build(ctx, Request{BaseDir: prodTree(t), Prod: true, SDK: testSDK})
	require.Error(t, err)

	recs, err := j.List(ctx, "", 0)
	require.NoError(t, err)
	statuses := map[string]bool{}
	for _, r := range recs {
		statuses[r.Status] = true
	}
	assert.True(t, statuses[StatusPartial], "ship failure should be journaled as partial")
}
