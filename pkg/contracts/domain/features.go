package domain

import "sort"

// Feature names a gated capability of the desktop application.
type Feature string

const (
	FeatureDashboard         Feature = "dashboard"
	FeatureKnowledgeBase     Feature = "knowledge_base"
	FeatureNotes             Feature = "notes"
	FeatureBasicSearch       Feature = "basic_search"
	FeatureExportMarkdown    Feature = "export_markdown"
	FeatureVideoDownload     Feature = "video_download"
	FeatureTranscription     Feature = "transcription"
	FeatureSubtitles         Feature = "subtitles"
	FeatureSemanticSearch    Feature = "semantic_search"
	FeatureLocalAI           Feature = "local_ai"
	FeatureScreenRecorder    Feature = "screen_recorder"
	FeaturePDFExport         Feature = "pdf_export"
	FeatureAIAssistant       Feature = "ai_assistant"
	FeatureCloudAI           Feature = "cloud_ai"
	FeatureContentRepurposer Feature = "content_repurposer"
	FeatureTranslation       Feature = "translation"
	FeaturePrioritySupport   Feature = "priority_support"
)

// Unlimited marks a quota without an upper bound.
const Unlimited = -1

// TierLimits are the offline default quotas of a tier.
type TierLimits struct {
	StorageLimitMB        int `json:"storage_limit_mb"`
	VideoDownloadsMonthly int `json:"video_downloads_monthly"`
	AITokensMonthly       int `json:"ai_tokens_monthly,omitempty"`
}

// FeatureCatalog maps every gated feature to the lowest tier that unlocks it.
// Higher tiers inherit everything below them through HasAccess.
var FeatureCatalog = map[Feature]Tier{
	FeatureDashboard:         TierFree,
	FeatureKnowledgeBase:     TierFree,
	FeatureNotes:             TierFree,
	FeatureBasicSearch:       TierFree,
	FeatureExportMarkdown:    TierFree,
	FeatureVideoDownload:     TierStarter,
	FeatureTranscription:     TierStarter,
	FeatureSubtitles:         TierStarter,
	FeatureSemanticSearch:    TierPro,
	FeatureLocalAI:           TierPro,
	FeatureScreenRecorder:    TierPro,
	FeaturePDFExport:         TierPro,
	FeatureAIAssistant:       TierPro,
	FeatureCloudAI:           TierPremium,
	FeatureContentRepurposer: TierPremium,
	FeatureTranslation:       TierPremium,
	FeaturePrioritySupport:   TierPremium,
}

// DefaultLimits holds the built-in quotas used when no pricing config is available.
var DefaultLimits = map[Tier]TierLimits{
	TierFree:    {StorageLimitMB: 100, VideoDownloadsMonthly: 3},
	TierStarter: {StorageLimitMB: 2000, VideoDownloadsMonthly: Unlimited},
	TierPro:     {StorageLimitMB: Unlimited, VideoDownloadsMonthly: Unlimited},
	TierPremium: {StorageLimitMB: Unlimited, VideoDownloadsMonthly: Unlimited, AITokensMonthly: 30000},
}

// RequiredTier returns the tier that unlocks feature.
func RequiredTier(feature Feature) (Tier, bool) {
	t, ok := FeatureCatalog[feature]
	return t, ok
}

// CanUse reports whether tier unlocks feature. Unknown features are denied.
func CanUse(tier Tier, feature Feature) bool {
	required, ok := RequiredTier(feature)
	if !ok {
		return false
	}
	return HasAccess(tier, required)
}

// FeaturesFor lists the features unlocked by tier in name order.
func FeaturesFor(tier Tier) []Feature {
	var out []Feature
	for f := range FeatureCatalog {
		if CanUse(tier, f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
