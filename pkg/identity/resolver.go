package identity

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
)

// Tag keys consulted in the authoritative tag store.
const (
	TagProject     = "Project"
	TagRole        = "Role"
	TagEnvironment = "Environment"
)

// groupPattern matches the trailing "<project>-<role>" convention in a
// security group name. The project part is greedy and may itself contain
// dashes; the role is the final dash-free token.
var groupPattern = regexp.MustCompile(`([\w-]+)-(\w+)$`)

// Source provides the two metadata collaborators resolution depends on.
type Source interface {
	// Tag returns the value of an instance tag, and whether it was set.
	Tag(ctx context.Context, key string) (string, bool, error)

	// SecurityGroups returns the names of the security groups currently
	// attached to the instance.
	SecurityGroups(ctx context.Context) ([]string, error)
}

// Resolver resolves the host identity from a Source.
type Resolver struct {
	src Source
	log zerolog.Logger
}

// NewResolver creates a resolver over the given metadata source.
func NewResolver(src Source, log zerolog.Logger) *Resolver {
	return &Resolver{
		src: src,
		log: log.With().Str("component", "identity").Logger(),
	}
}

// Resolve determines the host identity. Tags win unconditionally; security
// group inference only fills Project and Role when the tags are absent.
// Environment has no fallback and is left empty when untagged.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	var id Identity

	project, projectOK, projectErr := r.src.Tag(ctx, TagProject)
	role, roleOK, roleErr := r.src.Tag(ctx, TagRole)
	env, envOK, envErr := r.src.Tag(ctx, TagEnvironment)

	tagsFailed := projectErr != nil && roleErr != nil && envErr != nil

	if projectOK {
		id.Project = project
		id.Origins.Project = OriginTag
	}
	if roleOK {
		id.Roles = []string{role}
		id.Origins.Role = OriginTag
	}
	if envOK {
		id.Environment = env
		id.Origins.Environment = OriginTag
	}

	if id.Project == "" || len(id.Roles) == 0 {
		inferred, inferErr := r.infer(ctx)
		if inferErr != nil {
			if tagsFailed {
				return Identity{}, fmt.Errorf("%w: tags: %v, security groups: %v",
					ErrUnavailable, projectErr, inferErr)
			}
			r.log.Warn().Err(inferErr).Msg("security group inference failed, proceeding with tagged values only")
		} else {
			if id.Project == "" && inferred.Project != "" {
				id.Project = inferred.Project
				id.Origins.Project = OriginInferred
			}
			if len(id.Roles) == 0 && len(inferred.Roles) > 0 {
				id.Roles = inferred.Roles
				id.Origins.Role = OriginInferred
			}
		}
	}

	if id.Project == "" && len(id.Roles) == 0 && tagsFailed {
		return Identity{}, fmt.Errorf("%w: tags: %v", ErrUnavailable, projectErr)
	}

	if id.Environment == "" {
		r.log.Warn().Msg("no Environment tag and no inference fallback exists, environment tier left unset")
	}

	r.log.Info().
		Str("project", id.Project).
		Strs("roles", id.Roles).
		Str("environment", id.Environment).
		Str("project_origin", string(id.Origins.Project)).
		Str("role_origin", string(id.Origins.Role)).
		Msg("resolved host identity")

	return id, nil
}

// inferred holds the project and role guesses extracted from security
// group names.
type inferred struct {
	Project string
	Roles   []string
}

func (r *Resolver) infer(ctx context.Context) (inferred, error) {
	groups, err := r.src.SecurityGroups(ctx)
	if err != nil {
		return inferred{}, fmt.Errorf("listing security groups: %w", err)
	}

	var guess inferred
	seen := make(map[string]bool)
	for _, name := range groups {
		m := groupPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		project, role := m[1], m[2]
		if guess.Project == "" {
			guess.Project = project
		} else if guess.Project != project {
			r.log.Warn().
				Str("group", name).
				Str("project", project).
				Str("using", guess.Project).
				Msg("security groups disagree on project, keeping first match")
		}
		if !seen[role] {
			seen[role] = true
			guess.Roles = append(guess.Roles, role)
		}
	}
	return guess, nil
}
