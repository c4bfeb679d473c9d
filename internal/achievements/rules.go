package achievements

import (
	"fmt"
	"strings"
)

// Rule inspects a user's aggregate snapshot and yields the achievements it
// considers earned. Rules are pure: they read the snapshot only and never
// touch storage, so the evaluator is free to run them concurrently. A rule
// may re-propose an achievement the user already holds; the uniqueness
// constraint turns the duplicate into a no-op.
type Rule interface {
	Name() string
	Evaluate(snapshot Snapshot) []Award
}

// DefaultRules returns the full gamification rule registry.
func DefaultRules() []Rule {
	return []Rule{
		firstCompletionRule{},
		pointsMilestoneRule{},
		categoryMasteryRule{},
		streakRule{},
		qualityExpertRule{},
		highScorerRule{},
		locationExplorerRule{},
	}
}

type firstCompletionRule struct{}

func (firstCompletionRule) Name() string { return "first_completion" }

func (firstCompletionRule) Evaluate(snapshot Snapshot) []Award {
	if snapshot.ApprovedCount != 1 {
		return nil
	}
	return []Award{{
		Type:        "first_task",
		Title:       "First Steps",
		Description: "Completed your first task!",
		Icon:        "🎯",
		BonusPoints: 10,
	}}
}

type pointsMilestoneRule struct{}

func (pointsMilestoneRule) Name() string { return "points_milestone" }

var pointsMilestones = []struct {
	Points int64
	Title  string
	Desc   string
	Icon   string
}{
	{100, "Rising Star", "Earned 100 points", "⭐"},
	{500, "Task Master", "Earned 500 points", "🏆"},
	{1000, "Community Hero", "Earned 1000 points", "🦸"},
	{2500, "Legendary Contributor", "Earned 2500 points", "👑"},
	{5000, "Living Legend", "Earned 5000 points", "🌟"},
}

func (pointsMilestoneRule) Evaluate(snapshot Snapshot) []Award {
	var awards []Award
	for _, milestone := range pointsMilestones {
		if snapshot.TotalPoints < milestone.Points {
			continue
		}
		awards = append(awards, Award{
			Type:        fmt.Sprintf("points_%d", milestone.Points),
			Title:       milestone.Title,
			Description: milestone.Desc,
			Icon:        milestone.Icon,
			BonusPoints: milestone.Points / 10,
		})
	}
	return awards
}

type categoryMasteryRule struct{}

func (categoryMasteryRule) Name() string { return "category_mastery" }

var categoryTiers = []struct {
	Count int64
	Rank  string
	Icon  string
	Bonus int64
}{
	{5, "Enthusiast", "📚", 25},
	{10, "Expert", "🎓", 50},
	{25, "Master", "🏅", 100},
}

func (categoryMasteryRule) Evaluate(snapshot Snapshot) []Award {
	if snapshot.CategoryName == "" {
		return nil
	}
	var awards []Award
	for _, tier := range categoryTiers {
		if snapshot.CategoryCount < tier.Count {
			continue
		}
		lower := strings.ToLower(snapshot.CategoryName)
		awards = append(awards, Award{
			Type:        fmt.Sprintf("category_%s_%d", lower, tier.Count),
			Title:       fmt.Sprintf("%s %s", snapshot.CategoryName, tier.Rank),
			Description: fmt.Sprintf("Completed %d %s tasks", tier.Count, lower),
			Icon:        tier.Icon,
			BonusPoints: tier.Bonus,
		})
	}
	return awards
}

type streakRule struct{}

func (streakRule) Name() string { return "streak" }

var streakTiers = []struct {
	Days  int
	Title string
	Icon  string
	Bonus int64
}{
	{3, "On a Roll", "🔥", 15},
	{7, "Week Warrior", "💪", 50},
	{14, "Fortnight Champion", "🎖️", 100},
	{30, "Monthly Master", "🗓️", 250},
}

// A streak grows one day at a time, so exact equality catches each tier's
// first crossing and re-arms after a broken streak without re-awarding.
func (streakRule) Evaluate(snapshot Snapshot) []Award {
	for _, tier := range streakTiers {
		if snapshot.StreakDays != tier.Days {
			continue
		}
		return []Award{{
			Type:        fmt.Sprintf("streak_%d", tier.Days),
			Title:       tier.Title,
			Description: fmt.Sprintf("%d-day submission streak", tier.Days),
			Icon:        tier.Icon,
			BonusPoints: tier.Bonus,
		}}
	}
	return nil
}

type qualityExpertRule struct{}

func (qualityExpertRule) Name() string { return "quality_expert" }

func (qualityExpertRule) Evaluate(snapshot Snapshot) []Award {
	if snapshot.ApprovedTotal < 10 || snapshot.ApprovalRate() < 95 {
		return nil
	}
	return []Award{{
		Type:        "quality_expert",
		Title:       "Quality Expert",
		Description: "10+ approved submissions with 95%+ approval rate",
		Icon:        "✨",
		BonusPoints: 75,
	}}
}

type highScorerRule struct{}

func (highScorerRule) Name() string { return "high_scorer" }

func (highScorerRule) Evaluate(snapshot Snapshot) []Award {
	if snapshot.AveragePoints < 80 {
		return nil
	}
	return []Award{{
		Type:        "high_scorer",
		Title:       "High Scorer",
		Description: "Average 80+ points per submission",
		Icon:        "📈",
		BonusPoints: 50,
	}}
}

type locationExplorerRule struct{}

func (locationExplorerRule) Name() string { return "location_explorer" }

var explorerTiers = []struct {
	Count int64
	Title string
	Desc  string
	Icon  string
	Bonus int64
}{
	{5, "Neighborhood Explorer", "Completed tasks in 5 different locations", "🗺️", 30},
	{10, "City Explorer", "Completed tasks in 10 different locations", "🌆", 60},
	{25, "Regional Explorer", "Completed tasks in 25 different locations", "🌍", 150},
}

func (locationExplorerRule) Evaluate(snapshot Snapshot) []Award {
	var awards []Award
	for _, tier := range explorerTiers {
		if snapshot.DistinctLocations < tier.Count {
			continue
		}
		awards = append(awards, Award{
			Type:        fmt.Sprintf("explorer_%d", tier.Count),
			Title:       tier.Title,
			Description: tier.Desc,
			Icon:        tier.Icon,
			BonusPoints: tier.Bonus,
		})
	}
	return awards
}
