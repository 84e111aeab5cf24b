package pipeline

import (
	"context"
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/resilience"
	"github.com/seedcheck/validator-cli/pkg/crawler"
	"github.com/seedcheck/validator-cli/pkg/tikhub"
)

// routeOutcome is the routed social-acquisition result.
type routeOutcome struct {
	evidence model.SocialEvidence
	// usedCrawlerService is true when the accepted evidence came from the
	// self-operated crawler.
	usedCrawlerService bool
	// fromSignals is true when it came from the in-process signal store.
	fromSignals bool
	// source names the path that supplied the accepted evidence.
	source string
}

// routeBucket maps (user, keyword) to a stable bucket in [0, 1000). The
// same pair always lands in the same bucket, so reruns of one validation
// take the same path and per-user traffic splits at the configured ratio.
func routeBucket(userID, keyword string) int {
	h := fnv.New64a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(keyword))
	return int(h.Sum64() % 1000)
}

// routeSocial acquires social evidence through the configured paths. The
// hash bucket picks the preferred path; the signal store and the remaining
// path serve as fallbacks. Any path that meets the minimum-sample threshold
// wins immediately; otherwise the largest below-threshold result is kept.
// Quota denial on the system credential is fatal and returned as-is.
func (p *Pipeline) routeSocial(ctx context.Context, req model.ValidationRequest, keyword string, counters *runCounters) (routeOutcome, error) {
	rc := req.Runtime
	budget := req.Mode.Budget()
	log := zap.L().With(zap.String("keyword", keyword))

	selfAvailable := rc.UseSelfCrawler && p.crawler != nil
	thirdAvailable := rc.UseThirdParty && p.tikhubFactory != nil &&
		(rc.CrawlerToken != "" || p.cfg.TikHub.Key != "")

	bucket := routeBucket(req.UserID, keyword)
	preferSelf := selfAvailable && bucket < p.cfg.Router.SelfCrawlRatio

	type path struct {
		name string
		run  func(context.Context) (model.SocialEvidence, error)
	}

	var paths []path
	selfPath := path{"self-crawler", func(ctx context.Context) (model.SocialEvidence, error) {
		return p.crawlSelf(ctx, req, keyword, budget, counters)
	}}
	signalPath := path{"signals", func(context.Context) (model.SocialEvidence, error) {
		return p.signals.Lookup(keyword), nil
	}}
	thirdPath := path{"third-party", func(ctx context.Context) (model.SocialEvidence, error) {
		return p.crawlThirdParty(ctx, req, keyword, budget, counters)
	}}

	switch {
	case preferSelf && thirdAvailable:
		paths = []path{selfPath, signalPath, thirdPath}
	case preferSelf:
		paths = []path{selfPath, signalPath}
	case thirdAvailable && selfAvailable:
		paths = []path{thirdPath, signalPath, selfPath}
	case thirdAvailable:
		paths = []path{thirdPath, signalPath}
	case selfAvailable:
		paths = []path{selfPath, signalPath}
	default:
		return routeOutcome{}, model.E(model.KindDataSourceUnavailable, "no acquisition path has a usable credential")
	}

	var best routeOutcome
	selfTried := false
	selfErrored := false
	for _, pt := range paths {
		if pt.name == "self-crawler" {
			selfTried = true
		}
		ev, err := pt.run(ctx)
		if err != nil {
			if model.KindOf(err).Fatal() {
				return routeOutcome{}, err
			}
			if pt.name == "self-crawler" {
				selfErrored = true
			}
			log.Warn("router: path failed", zap.String("path", pt.name), zap.Error(err))
			continue
		}
		outcome := routeOutcome{
			evidence:           ev,
			usedCrawlerService: pt.name == "self-crawler",
			fromSignals:        pt.name == "signals",
			source:             pt.name,
		}
		if ev.MeetsMinimum() {
			log.Info("router: path accepted",
				zap.String("path", pt.name),
				zap.Int("posts", len(ev.SamplePosts)),
				zap.Int("comments", len(ev.SampleComments)),
			)
			p.signals.Record(keyword, ev)
			return outcome, nil
		}
		if sampleVolume(ev) > sampleVolume(best.evidence) {
			best = outcome
		}
	}

	if !best.evidence.Empty() {
		log.Info("router: accepting below-threshold evidence",
			zap.String("path", best.source),
			zap.Int("posts", len(best.evidence.SamplePosts)),
			zap.Int("comments", len(best.evidence.SampleComments)),
		)
		p.signals.Record(keyword, best.evidence)
		return best, nil
	}

	if selfTried && !selfErrored && !thirdAvailable {
		return routeOutcome{}, model.E(model.KindSelfCrawlerEmpty, "self crawler returned no usable samples and no fallback path is available")
	}
	return routeOutcome{}, model.E(model.KindDataSourceUnavailable, "every acquisition path returned nothing")
}

func sampleVolume(ev model.SocialEvidence) int {
	return len(ev.SamplePosts) + len(ev.SampleComments)
}

// crawlSelf runs the self-operated crawler service and normalizes its
// result.
func (p *Pipeline) crawlSelf(ctx context.Context, req model.ValidationRequest, keyword string, budget model.ModeBudget, counters *runCounters) (model.SocialEvidence, error) {
	platforms := req.Runtime.EnabledPlatforms()
	if len(platforms) == 0 {
		platforms = []string{"xiaohongshu"}
	}

	crawlCtx, cancel := context.WithTimeout(ctx, budget.CrawlTimeout)
	defer cancel()

	counters.addCrawler(1)
	result, err := resilience.ExecuteVal(crawlCtx, p.breakers.Get("crawler"), func(ctx context.Context) (*crawler.CrawlResult, error) {
		return p.crawler.Crawl(ctx, crawler.CrawlRequest{
			Query:           keyword,
			UserID:          req.UserID,
			Platforms:       platforms,
			Mode:            string(req.Mode),
			Notes:           budget.MaxPosts,
			CommentsPerNote: 3,
		})
	})
	if err != nil {
		return model.SocialEvidence{}, err
	}
	if !result.Completed() {
		zap.L().Warn("router: crawl job did not complete",
			zap.String("job_id", result.JobID),
			zap.String("status", result.Status),
			zap.Strings("errors", result.Errors),
		)
	}

	var ev model.SocialEvidence
	var likeSum, commentSum int
	for _, pr := range result.PlatformResults {
		for _, note := range pr.Notes {
			ev.SamplePosts = append(ev.SamplePosts, model.SocialPost{
				Platform:  pr.Platform,
				ItemID:    note.ID,
				Title:     note.Title,
				Content:   note.Desc,
				Likes:     note.LikedCount,
				Comments:  note.CommentsCount,
				Collected: note.CollectedCount,
				URL:       note.URL,
			})
			likeSum += note.LikedCount
			commentSum += note.CommentsCount
		}
		for _, c := range pr.Comments {
			ev.SampleComments = append(ev.SampleComments, model.SocialComment{
				Platform: pr.Platform,
				ItemID:   c.ID,
				Content:  c.Content,
				Likes:    c.LikeCount,
			})
		}
	}
	ev.TotalItems = len(ev.SamplePosts)
	if n := len(ev.SamplePosts); n > 0 {
		ev.AvgLikes = float64(likeSum) / float64(n)
		ev.AvgComments = float64(commentSum) / float64(n)
	}
	return ev, nil
}

// crawlThirdParty pulls posts and comments from the third-party social data
// API. The user's own token bypasses the free-tier gate; the system
// credential must be authorized by the quota gate before any call goes out.
func (p *Pipeline) crawlThirdParty(ctx context.Context, req model.ValidationRequest, keyword string, budget model.ModeBudget, counters *runCounters) (model.SocialEvidence, error) {
	token := req.Runtime.CrawlerToken
	if token == "" {
		token = p.cfg.TikHub.Key
		if token == "" {
			return model.SocialEvidence{}, model.E(model.KindDataSourceUnavailable, "no third-party credential configured")
		}
		if err := p.quota.Authorize(ctx, req.UserID); err != nil {
			return model.SocialEvidence{}, err
		}
	}
	client := p.tikhubFactory(token)

	platforms := req.Runtime.EnabledPlatforms()
	if len(platforms) == 0 {
		platforms = []string{"xiaohongshu"}
	}
	if len(platforms) > 2 {
		platforms = platforms[:2]
	}

	crawlCtx, cancel := context.WithTimeout(ctx, budget.CrawlTimeout)
	defer cancel()

	var ev model.SocialEvidence
	var likeSum, commentSum int
	breaker := p.breakers.Get("tikhub")

	for _, platform := range platforms {
		counters.addCrawler(1)
		posts, err := resilience.ExecuteVal(crawlCtx, breaker, func(ctx context.Context) ([]tikhub.Post, error) {
			return client.Search(ctx, platform, keyword)
		})
		if err != nil {
			zap.L().Warn("router: third-party search failed", zap.String("platform", platform), zap.Error(err))
			continue
		}
		if len(posts) > budget.MaxPosts {
			posts = posts[:budget.MaxPosts]
		}
		for _, post := range posts {
			ev.SamplePosts = append(ev.SamplePosts, model.SocialPost{
				Platform:  platform,
				ItemID:    post.ID,
				Title:     post.Title,
				Content:   post.Desc,
				Likes:     post.LikedCount,
				Comments:  post.CommentsCount,
				Collected: post.CollectedCount,
				URL:       post.URL,
			})
			likeSum += post.LikedCount
			commentSum += post.CommentsCount
		}

		// Comments only for the top posts; each fetch is a metered call.
		top := posts
		if len(top) > 3 {
			top = top[:3]
		}
		for _, post := range top {
			counters.addCrawler(1)
			comments, cerr := client.Comments(crawlCtx, platform, post.ID)
			if cerr != nil {
				zap.L().Debug("router: comment fetch failed", zap.String("item_id", post.ID), zap.Error(cerr))
				continue
			}
			for _, c := range comments {
				ev.SampleComments = append(ev.SampleComments, model.SocialComment{
					Platform: platform,
					ItemID:   c.ID,
					Content:  c.Content,
					Likes:    c.LikeCount,
				})
			}
		}
	}

	ev.TotalItems = len(ev.SamplePosts)
	if n := len(ev.SamplePosts); n > 0 {
		ev.AvgLikes = float64(likeSum) / float64(n)
		ev.AvgComments = float64(commentSum) / float64(n)
	}
	return ev, nil
}
