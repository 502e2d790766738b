package server

import (
	"net/http"
	"strings"

	"github.com/computersciencehouse/quickpoll/auth"
	"github.com/computersciencehouse/quickpoll/database"
	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/computersciencehouse/quickpoll/polls"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const formErrors = "_form"

// emptyOptionFields is how many option inputs a fresh create form shows.
const emptyOptionFields = 4

// requireUser resolves the session and records the user. Every mutating
// handler goes through it before touching the engine.
func (s *Server) requireUser(c *gin.Context) (*auth.Identity, bool) {
	id, ok := s.auth.Identity(c)
	if !ok {
		return nil, false
	}

	err := s.store.UpsertUser(c.Request.Context(), database.User{
		Id:    id.Id,
		Name:  id.Name,
		Email: id.Email,
		Image: id.Image,
	})
	if err != nil {
		logging.For("server").WithField("user", id.Id).WithError(err).Error("failed to upsert user")
	}
	return &id, true
}

func (s *Server) index(c *gin.Context) {
	user, ok := s.requireUser(c)
	if !ok {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{"Title": "Real-time Polls"})
		return
	}

	views, err := s.engine.ListPolls(c.Request.Context(), user.Id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": message(err)})
		return
	}

	c.HTML(http.StatusOK, "index.tmpl", gin.H{
		"Title": "Real-time Polls",
		"User":  user,
		"Polls": views,
	})
}

func (s *Server) createForm(c *gin.Context) {
	user, _ := s.requireUser(c)
	c.HTML(http.StatusOK, "create.tmpl", gin.H{
		"Title":   "Create a New Poll",
		"User":    user,
		"Options": make([]string, emptyOptionFields),
		"Errors":  map[string][]string{},
	})
}

func (s *Server) createPoll(c *gin.Context) {
	question := strings.TrimSpace(c.PostForm("question"))
	raw := c.PostFormArray("option")

	render := func(status int, user *auth.Identity, errs map[string][]string) {
		options := raw
		for len(options) < emptyOptionFields {
			options = append(options, "")
		}
		c.HTML(status, "create.tmpl", gin.H{
			"Title":    "Create a New Poll",
			"User":     user,
			"Question": question,
			"Options":  options,
			"Errors":   errs,
		})
	}

	user, ok := s.requireUser(c)
	if !ok {
		render(http.StatusUnauthorized, nil, map[string][]string{formErrors: {"You must be logged in to create a poll."}})
		return
	}

	_, err := s.engine.CreatePoll(c.Request.Context(), user.Id, polls.CreatePollInput{
		Question: question,
		Options:  polls.NormalizeOptions(raw),
	})
	if err != nil {
		var perr *polls.Error
		if errors.As(err, &perr) && perr.Kind == polls.KindValidation {
			render(http.StatusUnprocessableEntity, user, perr.Fields)
			return
		}
		render(status(err), user, map[string][]string{formErrors: {message(err)}})
		return
	}

	c.Redirect(http.StatusFound, "/")
}

// submitVote answers with a redirect back to the listing, which then shows
// the new tally in place.
func (s *Server) submitVote(c *gin.Context) {
	user, ok := s.requireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You must be logged in to vote."})
		return
	}

	pollId := c.PostForm("pollId")
	err := s.engine.SubmitVote(c.Request.Context(), user.Id, pollId, c.PostForm("optionId"))
	if err != nil {
		c.JSON(status(err), gin.H{"error": message(err)})
		return
	}

	c.Redirect(http.StatusSeeOther, "/#poll-"+pollId)
}

func (s *Server) results(c *gin.Context) {
	viewer := ""
	if user, ok := s.auth.Identity(c); ok {
		viewer = user.Id
	}

	view, err := s.engine.GetPoll(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		c.JSON(status(err), gin.H{"error": message(err)})
		return
	}

	c.JSON(http.StatusOK, view)
}

func status(err error) int {
	switch polls.KindOf(err) {
	case polls.KindUnauthenticated:
		return http.StatusUnauthorized
	case polls.KindValidation:
		return http.StatusUnprocessableEntity
	case polls.KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// message is the user-facing text for err; causes never leave the server.
func message(err error) string {
	var perr *polls.Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return "Something went wrong."
}
