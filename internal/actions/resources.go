package actions

import (
	"context"
	"fmt"

	"github.com/talgya/crossworlds/internal/agents"
	"github.com/talgya/crossworlds/internal/llm"
	"github.com/talgya/crossworlds/internal/store"
	"github.com/talgya/crossworlds/internal/tuning"
	"github.com/talgya/crossworlds/internal/world"
)

// displayItem maps a harvested resource kind to the inventory item type it
// is stored under — energy resources become "battery" items, everything
// else keeps its resource name (spec.md §4.6 Gather).
func displayItem(kind world.ResourceKind) string {
	if kind == world.ResourceEnergy {
		return "battery"
	}
	return string(kind)
}

func applyGather(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision, tick uint64) ActionResult {
	quantity := intParam(intent, "quantity", 1)
	if quantity < tuning.GatherMinQuantity || quantity > tuning.GatherMaxQuantity {
		return fail("Invalid quantity")
	}
	if actor.Energy < float64(quantity) {
		return fail("Not enough energy")
	}

	spawns, err := deps.Store.GetResourceSpawnsAtPosition(ctx, actor.X, actor.Y)
	if err != nil {
		return fail("storage error")
	}
	if len(spawns) == 0 {
		return fail(fmt.Sprintf("No resources at position (%d,%d)", actor.X, actor.Y))
	}

	wantKind := stringParam(intent, "resourceType", "")
	var target *world.ResourceSpawn
	for i := range spawns {
		if wantKind == "" || string(spawns[i].Kind) == wantKind {
			target = &spawns[i]
			break
		}
	}
	if target == nil {
		return fail(fmt.Sprintf("No %s resource at position", wantKind))
	}
	if target.CurrentAmount <= 0 {
		return fail("resource depleted")
	}

	granted, err := deps.Store.HarvestResource(ctx, target.ID, float64(quantity))
	if err != nil {
		return fail("storage error")
	}
	if granted <= 0 {
		return fail("Failed to gather")
	}

	cost := effectiveCost(granted, actor)
	if actor.Energy < cost {
		cost = actor.Energy
	}
	newEnergy := actor.Energy - cost

	item := displayItem(target.Kind)
	if err := deps.Store.AddToInventory(ctx, actor.ID, item, int(granted)); err != nil {
		return fail("storage error")
	}

	changes := map[agents.ID]store.PartialAgent{actor.ID: {Energy: &newEnergy}}
	events := []EventSpec{{
		Type: "agent_gathered", AgentID: &actor.ID,
		Payload: map[string]any{"spawnId": target.ID, "itemType": item, "quantity": granted},
	}}
	memory := &MemoryNote{
		AgentID:    actor.ID,
		Content:    fmt.Sprintf("Gathered %d %s at (%d,%d)", int(granted), item, actor.X, actor.Y),
		Importance: 0.2,
	}
	return ActionResult{Success: true, Changes: changes, Events: events, Memory: memory}
}

func applyConsume(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision) ActionResult {
	item := stringParam(intent, "itemType", "food")
	quantity := intParam(intent, "quantity", 1)
	if quantity < 1 {
		return fail("Invalid quantity")
	}

	ok, err := deps.Store.RemoveFromInventory(ctx, actor.ID, item, quantity)
	if err != nil {
		return fail("storage error")
	}
	if !ok {
		return fail(fmt.Sprintf("Not enough %s in inventory", item))
	}

	newHunger := actor.Hunger
	newEnergy := actor.Energy
	switch item {
	case "food":
		newHunger = clamp(actor.Hunger+20*float64(quantity), 0, 100)
	case "battery":
		newEnergy = clamp(actor.Energy+20*float64(quantity), 0, 100)
	}

	changes := map[agents.ID]store.PartialAgent{actor.ID: {Hunger: &newHunger, Energy: &newEnergy}}
	events := []EventSpec{{
		Type: "agent_consumed", AgentID: &actor.ID,
		Payload: map[string]any{"itemType": item, "quantity": quantity},
	}}
	return ActionResult{Success: true, Changes: changes, Events: events}
}

func applyBuy(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision) ActionResult {
	item := stringParam(intent, "itemType", "food")
	quantity := intParam(intent, "quantity", 1)
	if quantity < 1 {
		return fail("Invalid quantity")
	}

	unitPrice, known := world.DefaultItemPriceTable[item]
	if !known {
		return fail(fmt.Sprintf("Unknown item type %q", item))
	}
	totalCost := int64(unitPrice * quantity)
	if actor.Balance < totalCost {
		return fail("Insufficient balance")
	}

	shelters, err := deps.Store.GetAllShelters(ctx)
	if err != nil {
		return fail("storage error")
	}
	atShelter := false
	for _, sh := range shelters {
		if sh.X == actor.X && sh.Y == actor.Y {
			atShelter = true
			break
		}
	}
	if !atShelter {
		return fail("Must be at a shelter to buy")
	}

	if err := deps.Store.AddToInventory(ctx, actor.ID, item, quantity); err != nil {
		return fail("storage error")
	}

	newBalance := actor.Balance - totalCost
	changes := map[agents.ID]store.PartialAgent{actor.ID: {Balance: &newBalance}}
	events := []EventSpec{
		{Type: "agent_bought", AgentID: &actor.ID, Payload: map[string]any{"itemType": item, "quantity": quantity, "cost": totalCost}},
		{Type: "balance_changed", AgentID: &actor.ID, Payload: map[string]any{"delta": -totalCost, "balance": newBalance}},
	}
	return ActionResult{Success: true, Changes: changes, Events: events}
}

func applyTrade(ctx context.Context, deps Deps, actor *agents.Agent, intent llm.Decision) ActionResult {
	targetIDStr := stringParam(intent, "targetAgentId", "")
	if targetIDStr == "" {
		return fail("missing targetAgentId")
	}
	targetID := agents.ID(targetIDStr)
	if targetID == actor.ID {
		return fail("cannot trade with self")
	}

	target, err := deps.Store.GetAgent(ctx, targetID)
	if err != nil {
		return fail("target not found")
	}
	if !target.Alive() {
		return fail("target is dead")
	}
	if world.ManhattanDistance(actor.Position(), target.Position()) > 1 {
		return fail("target too far away")
	}

	offerItem := stringParam(intent, "offerItemType", "")
	offerQty := intParam(intent, "offerQuantity", 0)
	price := int64(intParam(intent, "price", 0))
	if offerItem == "" || offerQty < 1 || price < 0 {
		return fail("Invalid trade terms")
	}
	if target.Balance < price {
		return fail("target cannot afford trade")
	}

	ok, err := deps.Store.RemoveFromInventory(ctx, actor.ID, offerItem, offerQty)
	if err != nil {
		return fail("storage error")
	}
	if !ok {
		return fail(fmt.Sprintf("Not enough %s to trade", offerItem))
	}
	if err := deps.Store.AddToInventory(ctx, targetID, offerItem, offerQty); err != nil {
		return fail("storage error")
	}

	actorBalance := actor.Balance + price
	targetBalance := target.Balance - price
	changes := map[agents.ID]store.PartialAgent{
		actor.ID: {Balance: &actorBalance},
		targetID: {Balance: &targetBalance},
	}
	events := []EventSpec{{
		Type: "agents_traded", AgentID: &actor.ID,
		Payload: map[string]any{"withAgentId": targetID, "itemType": offerItem, "quantity": offerQty, "price": price},
	}}
	return ActionResult{Success: true, Changes: changes, Events: events}
}
