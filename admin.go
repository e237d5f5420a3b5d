package galeria

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	msgBadCredentials  = "Incorrect email or password."
	msgTooManyAttempts = "Too many login attempts. Try again later."
	msgInternal        = "Internal server error. Please try again."
	msgNoImage         = "No image selected."
	msgUploaded        = "Image uploaded successfully."
	msgSaveFailed      = "Could not save the image. Please try again."
	msgDeleted         = "Image deleted successfully."
	msgDeleteFailed    = "Could not delete the image. Please try again."
	msgListFailed      = "Could not load the image list."
)

// LoginCsrfToken extracts the login form token set by the CSRF middleware.
func LoginCsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}

func (a *App) handleLoginForm(c echo.Context) error {
	if IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin")
	}
	return Render(c, a.Views.Login(a.Config.Name, ConsumeFlash(c, FlashError), LoginCsrfToken(c)))
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		AddFlash(c, FlashError, msgTooManyAttempts)
		return c.Redirect(http.StatusSeeOther, "/login")
	}

	email := strings.TrimSpace(c.FormValue("email"))
	ok, err := a.Credentials.Verify(c.Request().Context(), email, c.FormValue("password"))
	if err != nil {
		c.Logger().Errorf("login: %v", err)
		AddFlash(c, FlashError, msgInternal)
		return c.Redirect(http.StatusSeeOther, "/login")
	}
	if !ok {
		a.loginLimiter.Record(ip)
		c.Logger().Warnf("failed login from %s", ip)
		AddFlash(c, FlashError, msgBadCredentials)
		return c.Redirect(http.StatusSeeOther, "/login")
	}

	a.loginLimiter.Reset(ip)
	if err := a.login(c, email); err != nil {
		return err
	}
	c.Logger().Infof("admin %s logged in from %s", email, ip)
	return c.Redirect(http.StatusSeeOther, "/admin")
}

func (a *App) handleLogout(c echo.Context) error {
	if err := logout(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (a *App) handleAdmin(c echo.Context) error {
	flash := consumeFlashes(c)
	token, err := IssueCSRFToken(c)
	if err != nil {
		return err
	}
	images, err := a.Images.List(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("admin list: %v", err)
		images = nil
		if flash.Error == "" {
			flash.Error = msgListFailed
		}
	}
	return Render(c, a.Views.Admin(a.Config.Name, Username(c), images, flash, token))
}

// handleUpload runs after requireCSRF has parsed the multipart form.
func (a *App) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		AddFlash(c, FlashError, msgNoImage)
		return c.Redirect(http.StatusSeeOther, "/admin")
	}
	if fh.Size > MaxUploadSize {
		AddFlash(c, FlashError, tooLargeMessage())
		return c.Redirect(http.StatusSeeOther, "/admin")
	}

	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return err
	}

	up, err := ValidateUpload(data, fh.Header.Get(echo.HeaderContentType), fh.Size)
	var ve *ValidationError
	if errors.As(err, &ve) {
		c.Logger().Infof("upload %q rejected: %s", fh.Filename, ve.Reason)
		AddFlash(c, FlashError, ve.Message)
		return c.Redirect(http.StatusSeeOther, "/admin")
	}
	if err != nil {
		return err
	}

	img, err := a.Images.Save(c.Request().Context(), cleanOriginalName(fh.Filename), up.MimeType, up.Data)
	if err != nil {
		c.Logger().Errorf("save upload: %v", err)
		AddFlash(c, FlashError, msgSaveFailed)
		return c.Redirect(http.StatusSeeOther, "/admin")
	}
	c.Logger().Infof("image %s uploaded (%s, %dx%d, %d bytes)", img.ID, img.MimeType, up.Width, up.Height, img.Size)
	AddFlash(c, FlashSuccess, msgUploaded)
	return c.Redirect(http.StatusSeeOther, "/admin")
}

func (a *App) handleDelete(c echo.Context) error {
	id := strings.TrimSpace(c.FormValue("imageId"))
	if id == "" {
		AddFlash(c, FlashError, msgNoImage)
		return c.Redirect(http.StatusSeeOther, "/admin")
	}
	err := a.Images.Delete(c.Request().Context(), id)
	a.thumbs.Invalidate(id)
	if err != nil {
		c.Logger().Errorf("delete image: %v", err)
		AddFlash(c, FlashError, msgDeleteFailed)
		return c.Redirect(http.StatusSeeOther, "/admin")
	}
	c.Logger().Infof("image %s deleted", id)
	AddFlash(c, FlashSuccess, msgDeleted)
	return c.Redirect(http.StatusSeeOther, "/admin")
}
