package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"waveopt/internal/model"
	"waveopt/internal/opt"
)

const testTenant = "t_mem"

func seedMemory(t *testing.T, m *Memory) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().UTC().Add(4 * time.Hour).Format(time.RFC3339)
	_, created, _, err := m.CreateOrders(ctx, testTenant, []model.OrderIn{
		{ExternalRef: "ext-1", Priority: 1, Deadline: deadline, Items: 4},
		{ExternalRef: "ext-2", Priority: 3, Deadline: deadline, Items: 10, WeightKg: 8},
	})
	if err != nil || created != 2 {
		t.Fatalf("CreateOrders: %d, %v", created, err)
	}
	all := []string{"PICK", "CONSOLIDATE", "PACK", "LABEL", "STAGE", "SHIP"}
	if _, err := m.CreateWorkers(ctx, testTenant, []model.WorkerIn{
		{Name: "alice", Capabilities: all, HourlyCost: 24},
		{Name: "bob", Capabilities: all, HourlyCost: 26},
	}); err != nil {
		t.Fatalf("CreateWorkers: %v", err)
	}
	if _, err := m.CreateEquipment(ctx, testTenant, []model.EquipmentIn{
		{Name: "cart-1", Serves: "PICK"},
		{Name: "bench-1", Serves: "PACK"},
		{Name: "bay-1", Serves: "STAGE"},
		{Name: "dock-1", Serves: "SHIP"},
	}); err != nil {
		t.Fatalf("CreateEquipment: %v", err)
	}
}

func memOptimizeReq() model.OptimizeRequest {
	return model.OptimizeRequest{
		TenantID:     testTenant,
		WaveDate:     "2026-08-26",
		Algorithm:    "greedy",
		TimeBudgetMs: 2000,
	}
}

func TestCreateOrdersDedupByExternalRef(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	deadline := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	impID, created, skipped, err := m.CreateOrders(ctx, testTenant, []model.OrderIn{
		{ExternalRef: "dup", Priority: 2, Deadline: deadline, Items: 1},
		{ExternalRef: "dup", Priority: 2, Deadline: deadline, Items: 1},
		{Priority: 2, Deadline: deadline, Items: 1}, // no ref, never deduped
	})
	if err != nil {
		t.Fatalf("CreateOrders: %v", err)
	}
	if impID == "" || created != 2 || skipped != 1 {
		t.Fatalf("import %s created=%d skipped=%d", impID, created, skipped)
	}

	// re-import of the same ref skips across calls too
	_, created, skipped, err = m.CreateOrders(ctx, testTenant, []model.OrderIn{
		{ExternalRef: "dup", Priority: 2, Deadline: deadline, Items: 1},
	})
	if err != nil || created != 0 || skipped != 1 {
		t.Fatalf("re-import created=%d skipped=%d err=%v", created, skipped, err)
	}

	orders, _, err := m.ListOrders(ctx, testTenant, "pending", "", 10)
	if err != nil || len(orders) != 2 {
		t.Fatalf("ListOrders: %d, %v", len(orders), err)
	}
}

func TestPlanWaveVersioningAndStatusFlip(t *testing.T) {
	m := NewMemory()
	seedMemory(t, m)
	ctx := context.Background()

	res, err := m.PlanWave(ctx, memOptimizeReq(), nil)
	if err != nil {
		t.Fatalf("PlanWave: %v", err)
	}
	if res.Plan.ID == "" || res.Plan.Version != 1 {
		t.Fatalf("first plan id=%s version=%d", res.Plan.ID, res.Plan.Version)
	}
	if !res.Complete || len(res.Plan.Orders) != 2 {
		t.Fatalf("complete=%v orders=%d", res.Complete, len(res.Plan.Orders))
	}

	pending, _, _ := m.ListOrders(ctx, testTenant, "pending", "", 10)
	if len(pending) != 0 {
		t.Fatalf("%d orders still pending after planning", len(pending))
	}
	planned, _, _ := m.ListOrders(ctx, testTenant, "planned", "", 10)
	if len(planned) != 2 {
		t.Fatalf("planned = %d", len(planned))
	}

	// new arrival lets a re-solve of the same wave bump the version
	deadline := time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339)
	if _, _, _, err := m.CreateOrders(ctx, testTenant, []model.OrderIn{
		{ExternalRef: "ext-3", Priority: 2, Deadline: deadline, Items: 3},
	}); err != nil {
		t.Fatal(err)
	}
	res2, err := m.PlanWave(ctx, memOptimizeReq(), nil)
	if err != nil {
		t.Fatalf("second PlanWave: %v", err)
	}
	if res2.Plan.Version != 2 {
		t.Fatalf("second plan version = %d", res2.Plan.Version)
	}
	if len(res2.Plan.Orders) != 1 {
		t.Fatalf("re-solve should only cover the new pending order, got %d", len(res2.Plan.Orders))
	}

	got, err := m.GetPlan(ctx, testTenant, res.Plan.ID)
	if err != nil || got.Version != 1 {
		t.Fatalf("GetPlan: %+v, %v", got.Version, err)
	}
	if _, err := m.GetPlan(ctx, "t_other", res.Plan.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant GetPlan: %v", err)
	}

	plans, _, err := m.ListPlans(ctx, testTenant, "2026-08-26", "", 10)
	if err != nil || len(plans) != 2 {
		t.Fatalf("ListPlans: %d, %v", len(plans), err)
	}
	if plans, _, _ = m.ListPlans(ctx, testTenant, "2026-09-01", "", 10); len(plans) != 0 {
		t.Fatalf("waveDate filter leaked %d plans", len(plans))
	}
}

func TestPlanWaveEmptyPool(t *testing.T) {
	m := NewMemory()
	_, err := m.PlanWave(context.Background(), memOptimizeReq(), nil)
	if !errors.Is(err, opt.ErrInvalidInput) {
		t.Fatalf("empty pool should be invalid input, got %v", err)
	}
}

func TestWaveStatsLatestVersion(t *testing.T) {
	m := NewMemory()
	seedMemory(t, m)
	ctx := context.Background()

	if _, err := m.PlanWave(ctx, memOptimizeReq(), nil); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339)
	if _, _, _, err := m.CreateOrders(ctx, testTenant, []model.OrderIn{
		{ExternalRef: "ext-9", Priority: 2, Deadline: deadline, Items: 3},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.PlanWave(ctx, memOptimizeReq(), nil); err != nil {
		t.Fatal(err)
	}

	stats, err := m.WaveStats(ctx, testTenant, "2026-08-26")
	if err != nil {
		t.Fatalf("WaveStats: %v", err)
	}
	if stats["plans"] != 2 {
		t.Fatalf("plans = %v", stats["plans"])
	}
	// aggregates come from the latest version only
	if stats["orders"] != 1 {
		t.Fatalf("orders = %v, want latest-version count 1", stats["orders"])
	}
	if stats["makespanMin"].(float64) <= 0 {
		t.Fatalf("makespan = %v", stats["makespanMin"])
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		TenantID: testTenant, URL: "https://a.example/hook", Events: []string{"plan.completed"}, Secret: "s1",
	})
	if err != nil || a.ID == "" {
		t.Fatalf("CreateSubscription: %v", err)
	}
	b, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{
		TenantID: testTenant, URL: "https://b.example/hook", Events: []string{"plan.completed", "orders.imported"},
	})

	subs, err := m.GetSubscriptionsForEvent(ctx, testTenant, "orders.imported")
	if err != nil || len(subs) != 1 || subs[0].ID != b.ID {
		t.Fatalf("GetSubscriptionsForEvent: %+v, %v", subs, err)
	}

	page, next, err := m.ListSubscriptions(ctx, testTenant, "", 1)
	if err != nil || len(page) != 1 || next == "" {
		t.Fatalf("first page: %d next=%q err=%v", len(page), next, err)
	}
	page, next, err = m.ListSubscriptions(ctx, testTenant, next, 1)
	if err != nil || len(page) != 1 || next != "" {
		t.Fatalf("second page: %d next=%q err=%v", len(page), next, err)
	}

	if err := m.DeleteSubscription(ctx, testTenant, a.ID); err != nil {
		t.Fatal(err)
	}
	if subs, _ = m.GetSubscriptionsForEvent(ctx, testTenant, "plan.completed"); len(subs) != 1 {
		t.Fatalf("delete left %d plan.completed subscribers", len(subs))
	}
}

func TestWebhookDeliveryQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.EnqueueWebhook(ctx, testTenant, "sub1", "plan.completed", "https://x.example/hook", "sec", []byte(`{"k":1}`))
	if err != nil || id == "" {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 || due[0].EventType != "plan.completed" {
		t.Fatalf("FetchDue: %+v, %v", due, err)
	}

	// failed attempt backs off into the future
	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 502, 12); err != nil {
		t.Fatal(err)
	}
	if due, _ = m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("backed-off delivery still due")
	}
	items, _, _ := m.ListWebhookDeliveries(ctx, testTenant, "retry", "", 10)
	if len(items) != 1 || items[0]["attempts"] != 1 || items[0]["lastError"] != "boom" {
		t.Fatalf("retry listing: %+v", items)
	}

	// manual retry makes it due again, then a success finishes it
	if err := m.RetryWebhookDelivery(ctx, testTenant, id); err != nil {
		t.Fatal(err)
	}
	if due, _ = m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 1 {
		t.Fatalf("retried delivery not due")
	}
	if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 8); err != nil {
		t.Fatal(err)
	}
	items, _, _ = m.ListWebhookDeliveries(ctx, testTenant, "delivered", "", 10)
	if len(items) != 1 {
		t.Fatalf("delivered listing: %+v", items)
	}

	id2, _ := m.EnqueueWebhook(ctx, testTenant, "sub1", "plan.improved", "https://x.example/hook", "", nil)
	if err := m.FailWebhookDelivery(ctx, id2, "gone", 410, 3); err != nil {
		t.Fatal(err)
	}
	if items, _, _ = m.ListWebhookDeliveries(ctx, testTenant, "failed", "", 10); len(items) != 1 {
		t.Fatalf("failed listing: %+v", items)
	}
}

func TestPlanMetricsPerAlgoUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SavePlanMetrics(ctx, testTenant, "2026-08-26", "greedy", map[string]any{"iterations": 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.SavePlanMetrics(ctx, testTenant, "2026-08-26", "anneal", map[string]any{"iterations": 500}); err != nil {
		t.Fatal(err)
	}
	// same algo replaces, never appends
	if err := m.SavePlanMetrics(ctx, testTenant, "2026-08-26", "anneal", map[string]any{"iterations": 900}); err != nil {
		t.Fatal(err)
	}

	items, err := m.ListPlanMetrics(ctx, testTenant, "2026-08-26", "")
	if err != nil || len(items) != 2 {
		t.Fatalf("ListPlanMetrics: %d, %v", len(items), err)
	}
	anneal, err := m.ListPlanMetrics(ctx, testTenant, "2026-08-26", "anneal")
	if err != nil || len(anneal) != 1 || anneal[0]["iterations"] != 900 {
		t.Fatalf("anneal metrics: %+v, %v", anneal, err)
	}

	snaps := []map[string]any{{"iteration": 50}, {"iteration": 100}}
	if err := m.SavePlanMetricsWeights(ctx, testTenant, "2026-08-26", "anneal", snaps); err != nil {
		t.Fatal(err)
	}
	got, err := m.ListPlanMetricsWeights(ctx, testTenant, "2026-08-26", "anneal")
	if err != nil || len(got) != 2 || got[0]["algo"] != "anneal" {
		t.Fatalf("weight snapshots: %+v, %v", got, err)
	}
}

func TestOptimizerConfigRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	cfg, err := m.GetOptimizerConfig(ctx, testTenant)
	if err != nil || cfg != nil {
		t.Fatalf("unset config: %v, %v", cfg, err)
	}
	if err := m.SaveOptimizerConfig(ctx, testTenant, map[string]any{"algorithm": "greedy"}); err != nil {
		t.Fatal(err)
	}
	cfg, err = m.GetOptimizerConfig(ctx, testTenant)
	if err != nil || cfg["algorithm"] != "greedy" {
		t.Fatalf("saved config: %v, %v", cfg, err)
	}
}
