package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/pkirklewski/bgNews/pkg/browser"
	"github.com/pkirklewski/bgNews/pkg/session"
)

// Selector candidate lists for the Polish and English Facebook UI. Each list
// is tried in order; the first visible element wins.
var (
	shareButtonSelectors = []string{
		`div[aria-label='Wyślij znajomym lub opublikuj na swoim profilu.']`,
		`div[aria-label='Send this to friends or post it on your profile.']`,
		`span:text-is("Udostępnij")`,
		`span:text-is("Share")`,
	}

	shareNowSelectors = []string{
		`span:text-is("Udostępnij teraz (publiczne)")`,
		`span:text-is("Udostępnij teraz (Publiczne)")`,
		`span:text-is("Share now (Public)")`,
		`span:has-text("Udostępnij teraz")`,
		`span:has-text("Share now")`,
		`span:text-is("Udostępnij w aktualnościach")`,
		`span:text-is("Share to Feed")`,
	}

	shareToGroupSelectors = []string{
		`span:text-is("Udostępnij w grupie")`,
		`span:text-is("Share to a group")`,
		`span:has-text("w grupie")`,
	}

	composerSelectors = []string{
		`div[role='button']:has-text("Co u Ciebie słychać")`,
		`div[role='button']:has-text("What's on your mind")`,
		`div[aria-label='Utwórz post']`,
		`div[aria-label='Create a post']`,
	}

	publishButtonSelectors = []string{
		`div[aria-label='Opublikuj']`,
		`div[aria-label='Post']`,
		`div[aria-label='Publish']`,
	}

	dismissPopupSelectors = []string{
		`span:text-is("Nie teraz")`,
		`span:text-is("Not Now")`,
		`span:text-is("Pomiń")`,
		`span:text-is("Skip")`,
	}

	composerTextboxSelector = `div[role='dialog'] div[role='textbox']`
	groupSearchSelector     = `div[role='dialog'] input[type='search']`
	photoInputSelector      = `div[role='dialog'] input[type='file']`
	dialogSelector          = `div[role='dialog']`
)

// selectorWait bounds how long each selector candidate is allowed to appear.
const selectorWait = 5 * time.Second

// SharePostAction re-shares an existing post to the page's own feed: navigate
// to the post, open its share menu, pick "share now".
type SharePostAction struct {
	// PostURL is the permalink of the post to share
	PostURL string
}

func (a SharePostAction) Name() string { return "share-post" }

func (a SharePostAction) Run(ctx context.Context, b browser.Backend) (session.Outcome, error) {
	if err := b.Navigate(ctx, a.PostURL); err != nil {
		return session.Outcome{}, err
	}
	if outcome, blocked := loginWallCheck(ctx, b); blocked {
		return outcome, nil
	}

	if ok, err := clickFirst(ctx, b, shareButtonSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("share button not found"), nil
	}

	if ok, err := clickFirst(ctx, b, shareNowSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("share now option not found"), nil
	}

	if err := awaitDialogGone(ctx, b); err != nil {
		return session.Outcome{}, err
	}
	dismissPopups(ctx, b)

	return session.Outcome{Kind: session.OutcomeSuccess}, nil
}

// ShareToGroupAction shares an existing page post into a group: share menu,
// "share to a group", group search, optional caption, publish.
type ShareToGroupAction struct {
	// PostURL is the permalink of the page post being shared
	PostURL string

	// GroupName is the search term identifying the target group
	GroupName string

	// Caption is optional text added to the group share
	Caption string
}

func (a ShareToGroupAction) Name() string { return "share-to-group" }

func (a ShareToGroupAction) Run(ctx context.Context, b browser.Backend) (session.Outcome, error) {
	if err := b.Navigate(ctx, a.PostURL); err != nil {
		return session.Outcome{}, err
	}
	if outcome, blocked := loginWallCheck(ctx, b); blocked {
		return outcome, nil
	}

	if ok, err := clickFirst(ctx, b, shareButtonSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("share button not found"), nil
	}

	if ok, err := clickFirst(ctx, b, shareToGroupSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("share-to-group option not found"), nil
	}

	if err := b.Fill(ctx, groupSearchSelector, a.GroupName); err != nil {
		if browser.IsDisconnect(err) {
			return session.Outcome{}, err
		}
		return notFound("group search box not found"), nil
	}

	groupResult := fmt.Sprintf(`div[role='dialog'] span:has-text(%q)`, a.GroupName)
	if err := b.WaitVisible(ctx, groupResult, selectorWait); err != nil {
		if browser.IsDisconnect(err) {
			return session.Outcome{}, err
		}
		return notFound(fmt.Sprintf("group %q not found in share dialog", a.GroupName)), nil
	}
	if err := b.Click(ctx, groupResult); err != nil {
		return session.Outcome{}, err
	}

	if a.Caption != "" {
		// Caption is best-effort: a share without text is still a share.
		_ = b.Fill(ctx, composerTextboxSelector, a.Caption)
	}

	if ok, err := clickFirst(ctx, b, publishButtonSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("publish button not found in group share dialog"), nil
	}

	if err := awaitDialogGone(ctx, b); err != nil {
		return session.Outcome{}, err
	}
	return session.Outcome{Kind: session.OutcomeSuccess}, nil
}

// PublishLinkAction posts a message containing an article link to the page
// feed. Facebook expands the link into an Open Graph preview card.
type PublishLinkAction struct {
	// PageURL is the page feed to post on
	PageURL string

	// Message is the post body; it includes the article link
	Message string

	// PreviewWait gives Facebook time to render the link preview before the
	// post is published. Zero means no wait.
	PreviewWait time.Duration
}

func (a PublishLinkAction) Name() string { return "publish-link" }

func (a PublishLinkAction) Run(ctx context.Context, b browser.Backend) (session.Outcome, error) {
	if err := b.Navigate(ctx, a.PageURL); err != nil {
		return session.Outcome{}, err
	}
	if outcome, blocked := loginWallCheck(ctx, b); blocked {
		return outcome, nil
	}

	if ok, err := clickFirst(ctx, b, composerSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("composer not found on page feed"), nil
	}

	if err := b.Fill(ctx, composerTextboxSelector, a.Message); err != nil {
		if browser.IsDisconnect(err) {
			return session.Outcome{}, err
		}
		return notFound("composer textbox not found"), nil
	}

	if a.PreviewWait > 0 {
		if err := sleepCtx(ctx, a.PreviewWait); err != nil {
			return session.Outcome{}, err
		}
	}

	if ok, err := clickFirst(ctx, b, publishButtonSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("publish button not found"), nil
	}

	if err := awaitDialogGone(ctx, b); err != nil {
		return session.Outcome{}, err
	}
	return session.Outcome{Kind: session.OutcomeSuccess}, nil
}

// PublishPhotoAction posts an image with a caption to the page feed. Used for
// the generated weather maps; the image file is composed outside this core.
type PublishPhotoAction struct {
	PageURL   string
	ImagePath string
	Caption   string
}

func (a PublishPhotoAction) Name() string { return "publish-photo" }

func (a PublishPhotoAction) Run(ctx context.Context, b browser.Backend) (session.Outcome, error) {
	if err := b.Navigate(ctx, a.PageURL); err != nil {
		return session.Outcome{}, err
	}
	if outcome, blocked := loginWallCheck(ctx, b); blocked {
		return outcome, nil
	}

	if ok, err := clickFirst(ctx, b, composerSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("composer not found on page feed"), nil
	}

	if err := b.Upload(ctx, photoInputSelector, a.ImagePath); err != nil {
		if browser.IsDisconnect(err) {
			return session.Outcome{}, err
		}
		return notFound("photo input not found in composer"), nil
	}

	// The composer only attaches the caption to the photo when it arrives as
	// key events.
	if err := b.Type(ctx, composerTextboxSelector, a.Caption); err != nil {
		if browser.IsDisconnect(err) {
			return session.Outcome{}, err
		}
		return notFound("composer textbox not found"), nil
	}

	if ok, err := clickFirst(ctx, b, publishButtonSelectors); err != nil {
		return session.Outcome{}, err
	} else if !ok {
		return notFound("publish button not found"), nil
	}

	if err := awaitDialogGone(ctx, b); err != nil {
		return session.Outcome{}, err
	}
	return session.Outcome{Kind: session.OutcomeSuccess}, nil
}

// clickFirst waits briefly for each selector candidate and clicks the first
// one that becomes visible. Returns false when none appeared; transport
// failures propagate as errors.
func clickFirst(ctx context.Context, b browser.Backend, selectors []string) (bool, error) {
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := b.WaitVisible(ctx, sel, selectorWait); err != nil {
			if browser.IsDisconnect(err) {
				return false, err
			}
			continue
		}
		if err := b.Click(ctx, sel); err != nil {
			if browser.IsDisconnect(err) {
				return false, err
			}
			continue
		}
		return true, nil
	}
	return false, nil
}

// loginWallCheck aborts an action when the backend landed on a login form:
// the persisted profile's session has expired and nothing privileged can
// succeed until an operator re-authenticates.
func loginWallCheck(ctx context.Context, b browser.Backend) (session.Outcome, bool) {
	state, err := b.ReadState(ctx)
	if err != nil {
		return session.Outcome{Kind: session.OutcomeDisconnected, Detail: err.Error()}, true
	}
	if state.LoginWall {
		return notFound("login page detected, session requires re-authentication"), true
	}
	return session.Outcome{}, false
}

// awaitDialogGone waits for the share/compose dialog to close, which is the
// observable confirmation that the action went through. A dialog that never
// closes means the outcome is unknown, and unknown is treated as not done:
// the item stays a candidate rather than risking a false "published" mark.
func awaitDialogGone(ctx context.Context, b browser.Backend) error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		open, err := b.Exists(ctx, dialogSelector)
		if err != nil {
			return err
		}
		if !open {
			return nil
		}
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
	}
	return fmt.Errorf("share dialog still open, outcome unknown")
}

// dismissPopups clears best-effort "Not now" style prompts that Facebook
// sometimes raises after an action. Failures are ignored.
func dismissPopups(ctx context.Context, b browser.Backend) {
	for _, sel := range dismissPopupSelectors {
		if ok, err := b.Exists(ctx, sel); err == nil && ok {
			_ = b.Click(ctx, sel)
			return
		}
	}
}

func notFound(detail string) session.Outcome {
	return session.Outcome{Kind: session.OutcomeNotFound, Detail: detail}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
